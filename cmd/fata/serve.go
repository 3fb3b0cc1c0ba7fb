package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/fata/pkg/dispatch"
	"github.com/go-go-golems/fata/pkg/driver"
	"github.com/go-go-golems/fata/pkg/gateway"
	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/queue"
	"github.com/go-go-golems/fata/pkg/reconciler"
	"github.com/go-go-golems/fata/pkg/runtime/openairuntime"
	"github.com/go-go-golems/fata/pkg/workflow"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().String("addr", ":8000", "HTTP listen address")
	cmd.Flags().String("topic", queue.DefaultTopic, "Queue topic for process status updates")
	cmd.Flags().String("malformed-policy", string(reconciler.MalformedDrop), "Malformed event policy (drop, dead-letter)")
	cmd.Flags().Duration("poll-interval", driver.DefaultPollInterval, "Run polling interval")
	cmd.Flags().Duration("poll-timeout", driver.DefaultPollTimeout, "Run polling timeout")
	cmd.Flags().String("openai-api-key", "", "OpenAI API key")
	cmd.Flags().String("openai-base-url", "", "OpenAI-compatible API base URL")
	cmd.Flags().String("assistant-id", "", "Existing assistant id (created when empty)")
	cmd.Flags().String("model", "gpt-4o", "Model the assistant is created with")
	cmd.Flags().Bool("simulate", false, "Simulate the approval workflow instead of invoking one")
	cmd.Flags().Duration("simulate-delay", 10*time.Second, "Delay before the simulated workflow reports back")
	cmd.Flags().String("workflow-name", "send-approval-email", "Registered approval workflow name")
	cmd.Flags().String("workflow-trigger-url", "", "Approval workflow HTTP trigger URL")
	cmd.Flags().String("workflow-status-url", "", "Approval workflow status URL (polled by run id)")

	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topic := viper.GetString("topic")
	wmLogger := queue.NewWatermillLogger(log.Logger)

	// In-process queue transport. A broker-backed watermill Pub/Sub slots
	// in here without touching the reconciler or the launchers.
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	defer func() { _ = pubSub.Close() }()

	registry := processes.NewRegistry()

	launcher, err := buildLauncher(pubSub, topic)
	if err != nil {
		return err
	}
	dispatcher := dispatch.NewDispatcher(registry, launcher)

	definitions, err := dispatcher.Definitions()
	if err != nil {
		return err
	}

	apiKey := viper.GetString("openai-api-key")
	if apiKey == "" {
		return errors.New("openai-api-key is required")
	}
	clientConfig := go_openai.DefaultConfig(apiKey)
	if baseURL := viper.GetString("openai-base-url"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	client := go_openai.NewClientWithConfig(clientConfig)

	assistantID, err := openairuntime.EnsureAssistant(ctx, client, openairuntime.AssistantConfig{
		AssistantID: viper.GetString("assistant-id"),
		Model:       viper.GetString("model"),
	}, definitions)
	if err != nil {
		return err
	}

	rt := openairuntime.NewRuntime(client, assistantID)
	turnDriver := driver.NewDriver(rt, dispatcher,
		driver.WithPollInterval(viper.GetDuration("poll-interval")),
		driver.WithPollTimeout(viper.GetDuration("poll-timeout")),
	)
	service := gateway.NewService(rt, turnDriver, registry)

	rec, err := reconciler.NewReconciler(registry, pubSub, wmLogger,
		reconciler.WithTopic(topic),
		reconciler.WithMalformedPolicy(reconciler.MalformedPolicy(viper.GetString("malformed-policy"))),
		reconciler.WithDeadLetterPublisher(pubSub),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	gateway.NewAPIHandler(service).Register(mux)
	server := &http.Server{
		Addr:    viper.GetString("addr"),
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLauncher(pubSub *gochannel.GoChannel, topic string) (dispatch.Launcher, error) {
	if viper.GetBool("simulate") {
		return workflow.NewSimulator(pubSub, topic, viper.GetDuration("simulate-delay")), nil
	}

	triggerURL := viper.GetString("workflow-trigger-url")
	if triggerURL == "" {
		return nil, errors.New("workflow-trigger-url is required unless --simulate is set")
	}

	invoker := workflow.NewHTTPInvoker()
	name := viper.GetString("workflow-name")
	if err := invoker.RegisterWorkflow(name, workflow.Endpoint{
		TriggerURL: triggerURL,
		StatusURL:  viper.GetString("workflow-status-url"),
	}); err != nil {
		return nil, err
	}

	return workflow.NewApprovalLauncher(invoker, pubSub, name,
		workflow.WithTopic(topic),
	), nil
}
