// Command agentcored is the agentcore run daemon: it loads configuration,
// wires the Run Manager's dependencies (stores, sandbox provider, LLM
// router, tool registry, streaming fabric), and serves the HTTP REST API
// (SPEC_FULL.md §4.N) until told to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/loomrun/agentcore/internal/config"
	"github.com/loomrun/agentcore/internal/contextmgr"
	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/engine"
	"github.com/loomrun/agentcore/internal/engine/local"
	"github.com/loomrun/agentcore/internal/httpapi"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/ratelimit"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/runmgr"
	"github.com/loomrun/agentcore/internal/sandbox"
	"github.com/loomrun/agentcore/internal/sandbox/droplet"
	sandboxlocal "github.com/loomrun/agentcore/internal/sandbox/local"
	"github.com/loomrun/agentcore/internal/store"
	"github.com/loomrun/agentcore/internal/store/memory"
	storemongo "github.com/loomrun/agentcore/internal/store/mongo"
	"github.com/loomrun/agentcore/internal/store/postgres"
	"github.com/loomrun/agentcore/internal/streamfabric"
	"github.com/loomrun/agentcore/internal/streamfabric/redisfabric"
	"github.com/loomrun/agentcore/internal/telemetry"
	"github.com/loomrun/agentcore/internal/tools"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentcored",
		Short:        "agentcore run daemon",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildHealthCmd())
	return root
}

func buildHealthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running agentcored's /agent/health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/agent/health", addr))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: %s", resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "agentcored HTTP address")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentcore HTTP API and run scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config override file (optional)")
	return cmd
}

// runServe loads configuration, wires every dependency described in
// SPEC_FULL.md's component table, and blocks serving HTTP until SIGINT or
// SIGTERM, then drains in-flight requests before returning.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.NewZerologLogger(os.Stderr, cfg.LogLevel)
	log.Info(ctx, "agentcore starting", "version", version, "http_addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projectStore, msgStore, runStore, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer closeStores()

	sandboxProvider, err := buildSandbox(cfg)
	if err != nil {
		return fmt.Errorf("build sandbox provider: %w", err)
	}

	llmClient := buildLLMRouter(cfg)

	reg, err := buildRegistry(cfg, sandboxProvider)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	fabric, closeFabric, err := buildFabric(cfg)
	if err != nil {
		return fmt.Errorf("build stream fabric: %w", err)
	}
	defer closeFabric()

	eng := local.New(runWorkerPoolSize(cfg))
	defer func() { _ = eng.Shutdown(context.Background()) }()

	metrics := telemetry.NewMetrics(nil)
	limiters := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go pollWorkerPoolLen(ctx, eng, metrics)

	ctxMgr := contextmgr.New(msgStore, llmClient, contextmgr.Budgets(cfg.LLMTokenBudgets), nil, contextmgr.Options{
		ThresholdRatio: cfg.ContextThresholdRatio,
		TargetRatio:    cfg.ContextTargetRatio,
	})

	mgr := runmgr.New(projectStore, msgStore, runStore, sandboxProvider, llmClient, reg, fabric, eng, runmgr.Options{
		AdmissionTimeout: cfg.AdmissionTimeout(),
		Limiters:         limiters,
		Metrics:          metrics,
		ContextManager:   ctxMgr,
	})

	watcher := config.NewWatcher(configPath, cfg)
	watcher.OnReload = func(updated config.Config) {
		log.SetLevel(updated.LogLevel)
		limiters.SetRate(updated.RateLimitRPS, updated.RateLimitBurst)
		log.Info(ctx, "config hot-reloaded", "log_level", updated.LogLevel, "rate_limit_rps", updated.RateLimitRPS, "rate_limit_burst", updated.RateLimitBurst)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer watcher.Stop()

	srv := httpapi.NewServer(mgr, fabric,
		httpapi.WithLogger(log),
		httpapi.WithDispatchPolicy(defaultDispatchPolicy()),
	)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info(ctx, "agentcore stopped")
	return nil
}

// pollWorkerPoolLen samples the engine's in-flight task count onto the
// agentcore_worker_pool_inflight gauge until ctx is done.
func pollWorkerPoolLen(ctx context.Context, eng engine.Engine, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetWorkerPoolLen(eng.Len())
		}
	}
}

func runWorkerPoolSize(cfg config.Config) int {
	if cfg.RunWorkerPoolSize > 0 {
		return cfg.RunWorkerPoolSize
	}
	return runtime.NumCPU() * 4
}

func defaultDispatchPolicy() dispatcher.Policy {
	return dispatcher.Policy{
		XMLToolCalling:    true,
		NativeToolCalling: true,
		ExecuteTools:      true,
		Strategy:          dispatcher.Parallel,
		ToolTimeout:       60 * time.Second,
	}
}

// buildStores wires the Project/Message/Run stores. agentcored defaults to
// the in-memory backend so a fresh checkout runs with zero external
// dependencies; setting POSTGRES_DSN (an extension beyond spec.md §6's
// documented vars, which name no SQL DSN) switches all three to
// internal/store/postgres against one shared pgxpool. MONGO_RUN_STORE_URI,
// if set, independently swaps just the RunStore for internal/store/mongo —
// run status is a small, heavily-read record that doesn't need the same
// backend as message history.
func buildStores(ctx context.Context, cfg config.Config) (store.ProjectStore, store.Store, store.RunStore, func(), error) {
	var (
		projectStore store.ProjectStore
		msgStore     store.Store
		runStore     store.RunStore
		closeFn      func()
	)

	if cfg.PostgresDSN == "" {
		now := store.Clock(time.Now)
		projectStore, msgStore, runStore, closeFn = memory.NewProjectStore(now), memory.New(now), memory.NewRunStore(), func() {}
	} else {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pgMsgStore := postgres.New(pool)
		projectStore, msgStore, runStore, closeFn = postgres.NewProjectStore(pool), pgMsgStore, postgres.NewRunStore(pgMsgStore), pool.Close
	}

	if cfg.MongoRunStoreURI == "" {
		return projectStore, msgStore, runStore, closeFn, nil
	}

	client, err := storemongo.Connect(ctx, cfg.MongoRunStoreURI)
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	mongoRunStore, err := storemongo.NewRunStore(ctx, client, cfg.MongoDatabase)
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("build mongo run store: %w", err)
	}
	return projectStore, msgStore, mongoRunStore, func() {
		_ = client.Disconnect(context.Background())
		closeFn()
	}, nil
}

// buildSandbox selects the sandbox.Provider backend. SANDBOX_PROVIDER_URL
// set to "droplet" wires internal/sandbox/droplet (provisioning real
// DigitalOcean droplets, authenticated with SANDBOX_API_KEY and an SSH
// signer loaded from SANDBOX_DROPLET_SSH_KEY_PATH); anything else falls
// back to internal/sandbox/local, a plain directory per project.
func buildSandbox(cfg config.Config) (sandbox.Provider, error) {
	if cfg.SandboxProviderURL != "droplet" {
		dir := cfg.SandboxLocalDir
		if dir == "" {
			dir = os.TempDir()
		}
		return sandboxlocal.New(dir), nil
	}

	keyData, err := os.ReadFile(cfg.DropletSSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read droplet ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse droplet ssh key: %w", err)
	}
	return droplet.New(cfg.SandboxAPIKey, droplet.Options{
		Region:    cfg.DropletRegion,
		Size:      cfg.DropletSize,
		Image:     cfg.DropletImage,
		SSHKeyIDs: cfg.DropletSSHKeyIDs,
		Signer:    signer,
	}), nil
}

// buildLLMRouter wires every provider backend whose credentials are
// present into a single llm.Router (itself an llm.Client, per its Chat
// method), so callers never need to know how many providers are
// configured. Missing credentials leave that slot nil; For only resolves
// to it when a request actually names a matching model prefix.
func buildLLMRouter(cfg config.Config) llm.Router {
	router := llm.Router{}
	if cfg.LLMAPIKey != "" {
		router.Anthropic = llm.NewAnthropic(cfg.LLMAPIKey, cfg.LLMBaseURL)
		router.OpenAI = llm.NewOpenAI(cfg.LLMAPIKey, cfg.LLMBaseURL)
	}
	if awsCfg, err := awsConfig(); err == nil {
		router.Bedrock = llm.NewBedrock(awsCfg)
	}
	return router
}

// awsConfig loads AWS credentials from the default chain (env vars, shared
// config, EC2/ECS role). Bedrock is only wired into the Router when this
// succeeds; a deployment with no AWS credentials simply never routes
// "bedrock/*" models anywhere.
func awsConfig() (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(context.Background())
}

// buildRegistry registers every tool SPEC_FULL.md §4.K names against one
// process-wide Registry (spec §5: read-mostly, registered at startup).
// web_search is always registered with a stub provider so the LLM
// consistently sees it is available; email_search is only registered when
// a mailbox is fully configured.
func buildRegistry(cfg config.Config, sandboxProvider sandbox.Provider) (*registry.Registry, error) {
	reg := registry.New()
	if err := tools.RegisterTerminalIntent(reg); err != nil {
		return nil, err
	}
	if err := tools.RegisterSandboxTools(reg, sandboxProvider); err != nil {
		return nil, err
	}
	if err := tools.RegisterWebSearch(reg, tools.StubSearchProvider{}); err != nil {
		return nil, err
	}
	if cfg.MailHost != "" && cfg.MailUsername != "" {
		if err := tools.RegisterEmailSearch(reg, tools.MailAccount{
			Host:     cfg.MailHost,
			Port:     cfg.MailPort,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// buildFabric wires the Streaming Fabric. KV_URL unset keeps the
// single-process streamfabric.InProcess backend (fine for one replica);
// setting it switches to internal/streamfabric/redisfabric so multiple
// agentcored replicas can share one run's stream.
func buildFabric(cfg config.Config) (streamfabric.Fabric, func(), error) {
	opts := streamfabric.Options{ResponseListTTL: cfg.ResponseListTTL()}
	if cfg.KVURL == "" {
		return streamfabric.NewInProcess(opts), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.KVURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse KV_URL: %w", err)
	}
	client := redis.NewClient(opt)
	return redisfabric.New(client, opts), func() { client.Close() }, nil
}
