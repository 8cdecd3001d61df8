package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/docnt/docnt/internal/auth"
	"github.com/docnt/docnt/internal/grading"
	"github.com/docnt/docnt/internal/grading/prompts"
	"github.com/docnt/docnt/internal/handler"
	appI18n "github.com/docnt/docnt/internal/i18n"
	"github.com/docnt/docnt/internal/model"
	"github.com/docnt/docnt/internal/store"
	"github.com/docnt/docnt/internal/uploads"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docnt",
		Short: "Course management with automatic grading of multiple-choice exams",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `docnt --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addVisionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", grading.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the vision model (or set NOVITA_API_KEY)")
	f.String("llm-model", grading.DefaultModel, "Vision model name")
	f.Int("llm-max-tokens", grading.DefaultMaxTokens, "Maximum tokens in the model reply")
	f.Float32("llm-temperature", grading.DefaultTemperature, "Sampling temperature")
	f.String("prompt-lang", string(prompts.LanguageES), "Grading prompt language (es, en)")
	f.Duration("grading-timeout", grading.DefaultTimeout, "Time limit for one vision model call")
	f.String("uploads-dir", "uploads", "Directory holding uploaded images")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "docnt.db", "SQLite database path")
	f.Int64("max-upload-size", uploads.DefaultMaxSize, "Largest accepted upload in bytes")
	f.String("jwt-secret", "", "Secret used to sign session tokens (required)")
	f.Duration("session-ttl", auth.DefaultTTL, "Session token lifetime")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.StringP("lang", "l", "es", "Default language for API messages (es, en)")
	f.String("admin-email", "", "Seed an admin account with this email when the database is empty")
	f.String("admin-password", "", "Password for the seeded admin account")
	addVisionFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one answer sheet image against a rubric file and print the result",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringP("image", "i", "", "Image file path, data URI, /uploads/ reference or URL (required)")
	f.StringP("rubric", "r", "", `Rubric JSON file: {"rubric": {...}, "points": {...}} (required)`)
	addVisionFlags(cmd)
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("rubric")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the grades of an exam as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "docnt.db", "SQLite database path")
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("DOCNT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("docnt")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/docnt")
	v.AddConfigPath("/etc/docnt")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newGrader builds the grading pipeline from the vision flags.
func newGrader(v *viper.Viper) (*grading.Grader, *uploads.Store, error) {
	up, err := uploads.NewDir(v.GetString("uploads-dir"), v.GetInt64("max-upload-size"))
	if err != nil {
		return nil, nil, err
	}

	lang := strings.ToLower(strings.TrimSpace(v.GetString("prompt-lang")))
	if !prompts.IsValidLanguage(lang) {
		slog.Warn("invalid prompt-lang, using es", "lang", lang)
		lang = string(prompts.LanguageES)
	}

	key := v.GetString("llm-key")
	if key == "" {
		key = os.Getenv("NOVITA_API_KEY")
	}
	temperature := float32(v.GetFloat64("llm-temperature"))
	vision, err := grading.NewOpenAIVision(grading.VisionConfig{
		BaseURL:     v.GetString("llm-url"),
		APIKey:      key,
		Model:       v.GetString("llm-model"),
		MaxTokens:   v.GetInt("llm-max-tokens"),
		Temperature: &temperature,
		Language:    prompts.Language(lang),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create vision client: %w (set --llm-key or NOVITA_API_KEY)", err)
	}

	return grading.NewGrader(grading.NewLocalResolver(up.Fs()), vision, v.GetDuration("grading-timeout")), up, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	grader, up, err := newGrader(v)
	if err != nil {
		return err
	}

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return errors.New("jwt secret is required: set --jwt-secret or DOCNT_JWT_SECRET")
	}
	tokens, err := auth.NewIssuer(secret, v.GetDuration("session-ttl"))
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	h := handler.New(db, grader, up, tokens, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware(lang))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go cleanupRevokedTokens(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"prompt_lang", v.GetString("prompt-lang"),
		"grading_timeout", v.GetDuration("grading-timeout"),
		"uploads_dir", v.GetString("uploads-dir"),
		"lang", lang,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grading.DefaultTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func cleanupRevokedTokens(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupRevokedTokens(); err != nil {
				slog.Warn("failed to clean up revoked tokens", "error", err)
			}
		}
	}
}

type rubricFile struct {
	Rubric map[string]string `json:"rubric"`
	Points map[string]int    `json:"points"`
}

func runGrade(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	data, err := os.ReadFile(v.GetString("rubric"))
	if err != nil {
		return fmt.Errorf("read rubric: %w", err)
	}
	var rf rubricFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse rubric: %w", err)
	}

	grader, _, err := newGrader(v)
	if err != nil {
		return err
	}

	image, err := imageArg(v.GetString("image"))
	if err != nil {
		return err
	}

	res, err := grader.Run(cmd.Context(), grading.Request{ImageRef: image, Rubric: rf.Rubric, Points: rf.Points})
	if err != nil {
		if raw, ok := grading.RawResponse(err); ok {
			fmt.Fprintln(os.Stderr, raw)
		}
		return fmt.Errorf("grade (%s): %w", grading.KindOf(err), err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// imageArg turns a local file path into a data URI. Other references are
// passed through for the resolver.
func imageArg(ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, grading.UploadsPrefix) ||
		strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	data, err := afero.ReadFile(afero.NewOsFs(), ref)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s is not an image (detected %s)", ref, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	examID := v.GetString("exam-id")
	export, err := db.ExportExam(examID)
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}
	if export == nil {
		return fmt.Errorf("exam %s not found", examID)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported exam", "exam_id", examID, "results", len(export.Results), "graded", export.NumGraded)
	return nil
}

func seedAdmin(db *store.Store, email, password string) error {
	if email == "" {
		return nil
	}
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or DOCNT_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Email:        strings.ToLower(email),
		Name:         "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded admin user", "email", email)
	return nil
}
