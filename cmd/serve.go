package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/preview"
	"github.com/conneroisu/mermaidlive/internal/renderer"
	"github.com/conneroisu/mermaidlive/internal/server"
	"github.com/conneroisu/mermaidlive/internal/validation"
	"github.com/conneroisu/mermaidlive/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve [diagram.mmd]",
	Aliases: []string{"s"},
	Short:   "Start the live preview server",
	Long: `Start the live preview server and open it in the browser.

With a file argument the file is watched and every save is previewed; the
browser editor is read-only. Without one the browser editor is the source.

Examples:
  mermaidlive serve                     # Edit in the browser
  mermaidlive serve docs/flow.mmd       # Preview a file on save
  mermaidlive serve -p 3000 --no-open   # Custom port, no browser
  mermaidlive serve --theme dark --debounce 250ms`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Bool("no-open", false, "Don't open browser automatically")
	serveCmd.Flags().Duration("debounce", preview.DefaultDebounceInterval, "Quiet period before a render")
	serveCmd.Flags().String("theme", "default", "Mermaid theme (default, forest, dark, neutral)")
	serveCmd.Flags().StringP("format", "f", string(renderer.FormatSVG), "Artifact format (svg, png, pdf)")

	AddFlagValidation(serveCmd, "port", ValidatePort)
	AddFlagValidation(serveCmd, "format", func(value string) error {
		_, err := renderer.ParseFormat(value)
		return err
	})

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("preview.debounce_interval", serveCmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("renderer.theme", serveCmd.Flags().Lookup("theme"))
	_ = viper.BindPFlag("renderer.format", serveCmd.Flags().Lookup("format"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		if err := checkDiagramPath(args[0]); err != nil {
			return err
		}
		cfg.SourceFile = args[0]
	}
	if noOpen, _ := cmd.Flags().GetBool("no-open"); noOpen {
		cfg.Server.Open = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mmdc, err := renderer.NewMmdcRenderer(ctx, cfg.MmdcConfig())
	if err != nil {
		return fmt.Errorf("mermaid CLI unavailable (run 'mermaidlive doctor'): %w", err)
	}
	logger.Info(ctx, "Using mermaid CLI", "command", mmdc.Command())

	store, err := cache.New(cfg.CacheOptions())
	if err != nil {
		return err
	}

	pipeline, err := preview.New(cfg.PreviewOptions(), preview.Deps{
		Renderer: mmdc,
		Cache:    store,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	pipeline.Start(ctx)
	defer pipeline.Stop()

	if cfg.SourceFile != "" {
		fw, err := watcher.NewFileWatcher(cfg.SourceFile, logger)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.SourceFile, err)
		}
		fw.AddHandler(func(event watcher.ChangeEvent) error {
			if event.Type == watcher.EventTypeDeleted {
				logger.Warn(ctx, nil, "Diagram file removed, keeping last preview", "path", event.Path)
				return nil
			}
			return pipeline.Submit(event.Content)
		})
		if err := fw.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.SourceFile, err)
		}
		defer fw.Stop()
	}

	srv, err := server.New(cfg, pipeline, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, err, "Error during server shutdown")
		}
	}()

	if cfg.SourceFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Previewing %s at %s\n", cfg.SourceFile, srv.URL())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Mermaid editor at %s\n", srv.URL())
	}

	return srv.Start(ctx)
}

// checkDiagramPath rejects unsafe paths and files that are not diagrams.
func checkDiagramPath(path string) error {
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid diagram path: %w", err)
	}
	if err := validation.ValidateFileExtension(path, validation.DiagramExtensions); err != nil {
		return fmt.Errorf("invalid diagram path: %w", err)
	}
	return nil
}
