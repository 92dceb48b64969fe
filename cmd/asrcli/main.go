package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/asr-client/internal/config"
	"github.com/zhouzirui/asr-client/internal/metrics"
	"github.com/zhouzirui/asr-client/internal/service/api"
	"github.com/zhouzirui/asr-client/internal/service/session"
	"github.com/zhouzirui/asr-client/internal/service/transport"
	"github.com/zhouzirui/asr-client/pkg/utils"
)

// options 命令行参数
type options struct {
	mode        string
	username    string
	password    string
	file        string
	audio       string
	chunkMs     int
	hotwordList string
	id          string
	word        string
	weight      int
	skip        int
	limit       int
	streamMode  string
	timeout     time.Duration
	wait        bool
}

// app 各模式共享的依赖
type app struct {
	cfg      *config.Config
	store    *session.Store
	api      *api.Client
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	logCloser := utils.SetupLogOutput(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	defer logCloser.Close()

	var opts options
	flag.StringVar(&opts.mode, "mode", "", "操作: login register me logout submit task tasks hotword-add hotword-list hotword-update hotword-delete hotword-import realtime")
	flag.StringVar(&opts.username, "user", "", "用户名")
	flag.StringVar(&opts.password, "pass", "", "密码")
	flag.StringVar(&opts.file, "file", "", "音频文件 (submit/realtime) 或热词文件 (hotword-import)")
	flag.StringVar(&opts.audio, "audio", "", "realtime 模式的 WAV 文件，留空时使用 -file")
	flag.IntVar(&opts.chunkMs, "chunk-ms", 60, "realtime 模式每个音频块的时长 (毫秒)")
	flag.StringVar(&opts.hotwordList, "hotword-list", "", "提交转写时使用的热词列表 ID")
	flag.StringVar(&opts.id, "id", "", "任务或热词 ID")
	flag.StringVar(&opts.word, "word", "", "热词")
	flag.IntVar(&opts.weight, "weight", 0, "热词权重 (1-10)，0 表示不修改/使用默认值")
	flag.IntVar(&opts.skip, "skip", 0, "分页偏移")
	flag.IntVar(&opts.limit, "limit", 0, "分页大小，0 使用后端默认值")
	flag.StringVar(&opts.streamMode, "stream-mode", "2pass", "实时识别模式: online offline 2pass")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "整体超时时间")
	flag.BoolVar(&opts.wait, "wait", false, "submit 后轮询直到任务结束")
	flag.Parse()

	if opts.mode == "" {
		flag.Usage()
		log.Fatal("请通过 -mode 指定操作")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	if err := a.run(ctx, opts); err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "未登录或登录已失效，请先执行 -mode=login")
		}
		log.Fatalf("%s 失败: %v", opts.mode, err)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store := session.NewStore(session.NewFileStorage(cfg.Session.File))
	store.OnInvalidated(func(ev session.Invalidation) {
		if ev.Reason != session.ReasonLogout {
			fmt.Fprintf(os.Stderr, "会话已失效 (%s)，请重新登录\n", ev.Reason)
		}
	})

	if cfg.Session.Watch {
		if err := store.Watch(ctx); err != nil {
			log.Printf("[WARN] 无法监听会话文件: %v", err)
		}
	}

	a := &app{cfg: cfg, store: store}

	if cfg.Metrics.Addr != "" {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewMetrics(a.registry)
		go serveMetrics(cfg.Metrics.Addr, a.registry)
	}

	tc, err := transport.NewClient(transport.Config{
		BaseURL:     cfg.Backend.BaseURL,
		Timeout:     cfg.Backend.Timeout,
		EnableHTTP2: cfg.Backend.EnableHTTP2,
	}, store, transport.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	a.api = api.New(tc, api.WithLoginForm(cfg.Backend.LoginForm))
	return a, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[WARN] metrics server stopped: %v", err)
	}
}

func (a *app) run(ctx context.Context, opts options) error {
	switch opts.mode {
	case "login":
		return a.login(ctx, opts)
	case "register":
		return a.register(ctx, opts)
	case "me":
		return a.me(ctx)
	case "logout":
		a.store.Clear(session.ReasonLogout)
		fmt.Println("已退出登录")
		return nil
	case "submit":
		return a.submit(ctx, opts)
	case "task":
		return a.task(ctx, opts)
	case "tasks":
		return a.tasks(ctx, opts)
	case "hotword-add":
		return a.hotwordAdd(ctx, opts)
	case "hotword-list":
		return a.hotwordList(ctx, opts)
	case "hotword-update":
		return a.hotwordUpdate(ctx, opts)
	case "hotword-delete":
		return a.hotwordDelete(ctx, opts)
	case "hotword-import":
		return a.hotwordImport(ctx, opts)
	case "realtime":
		return a.streamFile(ctx, opts)
	default:
		flag.Usage()
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
}
