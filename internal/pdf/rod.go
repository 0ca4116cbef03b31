package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine 使用 go-rod 启动无头 Chromium，每次渲染使用独立的浏览器进程。
type RodEngine struct {
	timeout time.Duration
}

func NewRodEngine(timeout time.Duration) *RodEngine {
	return &RodEngine{timeout: timeout}
}

// openPage 启动浏览器并载入 HTML，返回的 cleanup 负责关闭页面、浏览器与启动器。
func (e *RodEngine) openPage(ctx context.Context, html string) (_ *rod.Page, cleanup func(), err error) {
	cleanup = func() {}

	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)
	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		launch.Cleanup()
		return nil, cleanup, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(browserURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		launch.Cleanup()
		return nil, cleanup, fmt.Errorf("connect browser: %w", err)
	}
	cleanup = func() {
		_ = browser.Close()
		launch.Cleanup()
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("create page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetDocumentContent(html); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("wait load: %w", err)
	}

	// WebFont 未就绪时等待最多 3 秒，避免回退字体导致排版差异；失败不影响导出
	_, _ = page.Timeout(5 * time.Second).Eval(`() => {
	  if (document && document.fonts && document.fonts.ready) {
	    return Promise.race([
	      document.fonts.ready.then(() => true),
	      new Promise((resolve) => setTimeout(() => resolve(true), 3000))
	    ]);
	  }
	  return true;
	}`)

	if err := (proto.EmulationSetEmulatedMedia{Media: "print"}).Call(page); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("set emulated media to print: %w", err)
	}

	return page, cleanup, nil
}

func (e *RodEngine) Render(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	page, cleanup, err := e.openPage(ctx, html)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	zero := 0.0
	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PaperWidth:        float64Ptr(paperWidth),
		PaperHeight:       float64Ptr(paperHeight),
		MarginTop:         &zero,
		MarginBottom:      &zero,
		MarginLeft:        &zero,
		MarginRight:       &zero,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

// Screenshot 截取首屏（A4 视口）作为模板缩略图。
func (e *RodEngine) Screenshot(ctx context.Context, html string, quality int) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	page, cleanup, err := e.openPage(ctx, html)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: intPtr(quality),
	})
	if err != nil {
		return nil, fmt.Errorf("page screenshot: %w", err)
	}
	return data, nil
}

func float64Ptr(value float64) *float64 {
	return &value
}

func intPtr(value int) *int {
	return &value
}
