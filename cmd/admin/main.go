package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"resumeforge/internal/catalog"
	"resumeforge/internal/config"
	"resumeforge/internal/database"
	"resumeforge/internal/tasks"
)

func main() {
	var (
		dir        = flag.String("templates-dir", "", "模板目录（可选，默认读 TEMPLATES_DIR）")
		thumbnails = flag.Bool("thumbnails", false, "同步后为每个模板生成缩略图任务")
		only       = flag.String("only", "", "只处理指定模板 ID，逗号分隔（可选）")
		dryRun     = flag.Bool("dry-run", false, "只打印将要同步的模板，不写数据库")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*dir) == "" {
		*dir = cfg.Templates.Dir
	}

	templates, err := catalog.LoadDir(*dir)
	if err != nil {
		log.Fatalf("load templates from %s: %v", *dir, err)
	}
	templates = selectTemplates(templates, *only)
	if len(templates) == 0 {
		fmt.Fprintln(os.Stderr, "没有需要同步的模板")
		return
	}

	if *dryRun {
		for _, t := range templates {
			fmt.Printf("%-32s %-12s %s\n", t.ID, t.Category, t.Filename)
		}
		return
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	ctx := context.Background()
	if err := catalog.NewStore(db).Sync(ctx, templates); err != nil {
		log.Fatalf("sync templates: %v", err)
	}
	fmt.Printf("已同步 %d 个模板\n", len(templates))

	if !*thumbnails {
		return
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer client.Close()

	queued := 0
	for _, t := range templates {
		task, err := tasks.NewTemplateThumbnailTask(t.ID, "admin")
		if err != nil {
			log.Printf("build thumbnail task for %s: %v", t.ID, err)
			continue
		}
		if _, err := client.Enqueue(task); err != nil {
			log.Printf("enqueue thumbnail task for %s: %v", t.ID, err)
			continue
		}
		queued++
	}
	fmt.Printf("已提交 %d 个缩略图任务\n", queued)
}

func selectTemplates(all []catalog.Template, only string) []catalog.Template {
	ids := make(map[string]struct{})
	for _, id := range strings.Split(only, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return all
	}
	out := make([]catalog.Template, 0, len(ids))
	for _, t := range all {
		if _, ok := ids[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}
