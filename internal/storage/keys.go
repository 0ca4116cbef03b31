package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// 对象键布局：
//
//	sources/<user>/<doc>/<uuid><ext>
//	previews/<doc>/<version>-<uuid>.pdf
//	exports/<user>/<doc>/<uuid>.pdf
//	thumbnails/<template>.jpg

func SourceKey(userID string, docID uint, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("sources/%s/%d/%s%s", sanitize(userID), docID, uuid.NewString(), ext)
}

func PreviewKey(docID uint, version int) string {
	return fmt.Sprintf("previews/%d/%d-%s.pdf", docID, version, uuid.NewString())
}

func PreviewPrefix(docID uint) string {
	return fmt.Sprintf("previews/%d/", docID)
}

func ExportKey(userID string, docID uint) string {
	return fmt.Sprintf("exports/%s/%d/%s.pdf", sanitize(userID), docID, uuid.NewString())
}

// DocumentPrefixes 返回某文档名下所有对象的前缀。
func DocumentPrefixes(userID string, docID uint) []string {
	u := sanitize(userID)
	return []string{
		fmt.Sprintf("sources/%s/%d/", u, docID),
		PreviewPrefix(docID),
		fmt.Sprintf("exports/%s/%d/", u, docID),
	}
}

func ThumbnailKey(templateID string) string {
	return "thumbnails/" + sanitize(templateID) + ".jpg"
}

// sanitize 去掉会破坏键层级的字符。
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	s = r.Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

// DownloadName 由文档标题生成安全的下载文件名。
func DownloadName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "resume"
	}
	return name + ".pdf"
}
