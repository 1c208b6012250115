package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/agora-edu/agora/internal/client"
	"github.com/agora-edu/agora/internal/grading"
	"github.com/agora-edu/agora/internal/handler"
	appI18n "github.com/agora-edu/agora/internal/i18n"
	"github.com/agora-edu/agora/internal/llm"
	"github.com/agora-edu/agora/internal/model"
	"github.com/agora-edu/agora/internal/runner"
	"github.com/agora-edu/agora/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agora",
		Short: "AI-assisted exam platform for philosophy courses",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), takeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `agora --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "agora.db", "SQLite database path")
	f.StringSliceP("exams", "e", []string{"exams/intro_philosophy.json"}, "Paths to exam JSON files (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "Feedback language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins for browser clients")
	f.String("admin-password", "", "Initial admin password (or set AGORA_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graded attempts as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "agora.db", "SQLite database path")
	f.String("course-id", "", "Course identifier for output (required)")
	f.String("subject", "", "Subject name for output (required)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("course-id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func takeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Take an exam interactively in the terminal",
		RunE:  runTake,
	}
	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "Exam server base URL")
	f.String("exam", "", "Exam id to take (empty lists available exams)")
	f.StringP("user", "u", "", "Username (required)")
	f.StringP("password", "p", "", "Password (or set AGORA_PASSWORD)")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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

	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("agora")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/agora")
	v.AddConfigPath("/etc/agora")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadExams(db, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("load exams: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	grader := grading.NewService(llmClient, v.GetString("llm-model"))
	h := handler.New(db, grader, llmClient, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
		DefaultModel:  v.GetString("llm-model"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAllAttempts()
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}
	export.CourseID = v.GetString("course-id")
	export.Subject = v.GetString("subject")
	export.Date = v.GetString("date")

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

	return nil
}

func runTake(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))

	c := client.New(v.GetString("server"))
	if err := c.Login(ctx, v.GetString("user"), v.GetString("password")); err != nil {
		return err
	}

	examID := v.GetString("exam")
	if examID == "" {
		exams, err := c.ListExams(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Available exams:")
		for _, e := range exams {
			fmt.Printf("  %-24s %s (%d questions)\n", e.ID, e.Title, e.NumQuestions)
		}
		fmt.Println("\nRun again with --exam <id> to start.")
		return nil
	}

	exam, err := c.FetchExam(ctx, examID)
	if err != nil {
		return err
	}

	r := runner.New(exam, c)
	if err := r.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("%s\n", exam.Title)
	if exam.DurationSec > 0 {
		fmt.Printf("Time limit: %s. The exam submits automatically when time runs out.\n", time.Duration(exam.DurationSec)*time.Second)
	}
	fmt.Println(`Commands: answer <text>, next, prev, goto <n>, status, time, submit, quit`)

	return takeLoop(ctx, r, os.Stdin, os.Stdout)
}

// takeLoop drives the exam runner from a line-oriented command stream.
func takeLoop(ctx context.Context, r *runner.Runner, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	printQuestion(r, out)
	for {
		if r.State() == model.StateSubmitted {
			break
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")

		// The timer may have force-submitted while we waited for input.
		if r.State() == model.StateSubmitted {
			break
		}

		switch verb {
		case "answer", "a":
			q, err := r.Current()
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			var value model.AnswerValue
			if q.Type == model.QuestionMCQ {
				idx, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					fmt.Fprintln(out, "answer for a multiple-choice question must be a choice number")
					continue
				}
				value = model.ChoiceAnswer(idx)
			} else {
				value = model.TextAnswer(rest)
			}
			if err := r.SetAnswer(q.ID, value); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			r.Next()
			printQuestion(r, out)
		case "next", "n":
			r.Next()
			printQuestion(r, out)
		case "prev", "p":
			r.Prev()
			printQuestion(r, out)
		case "goto", "g":
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil || r.GoTo(n-1) != nil {
				fmt.Fprintln(out, "no such question")
				continue
			}
			printQuestion(r, out)
		case "status", "s":
			fmt.Fprintf(out, "%d of %d questions unanswered\n", r.Unanswered(), len(r.Exam().Questions))
		case "time", "t":
			if r.Exam().DurationSec > 0 {
				fmt.Fprintf(out, "time remaining: %s\n", r.Remaining().Round(time.Second))
			} else {
				fmt.Fprintln(out, "this exam is untimed")
			}
		case "submit":
			result, err := r.Submit(ctx)
			if err != nil {
				if errors.Is(err, runner.ErrIncomplete) {
					fmt.Fprintf(out, "cannot submit: %d of %d questions unanswered\n", r.Unanswered(), len(r.Exam().Questions))
				} else {
					fmt.Fprintf(out, "%s (%v)\n", appI18n.T(ctx, "SubmitFailed"), err)
				}
				continue
			}
			printResult(result, out)
		case "quit", "q":
			fmt.Fprintln(out, "leaving without submitting; answers are not saved")
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", verb)
		}
	}

	if result, ok := r.Result(); ok {
		printResult(result, out)
	}
	return scanner.Err()
}

func printQuestion(r *runner.Runner, out io.Writer) {
	q, err := r.Current()
	if err != nil {
		return
	}
	fmt.Fprintf(out, "\n[%d/%d] %s\n", r.Index()+1, len(r.Exam().Questions), q.Prompt)
	for i, choice := range q.Choices {
		fmt.Fprintf(out, "  %d) %s\n", i, choice)
	}
	if v, ok := r.Answer(q.ID); ok {
		switch {
		case v.Choice != nil:
			fmt.Fprintf(out, "current answer: %d\n", *v.Choice)
		case v.Text != nil:
			fmt.Fprintf(out, "current answer: %s\n", *v.Text)
		}
	}
}

func printResult(result model.SubmissionResult, out io.Writer) {
	fmt.Fprintf(out, "\nScore: %.1f%%\n", result.ScorePct)
	for _, r := range result.PerQuestion {
		mark := "✗"
		if r.Correct {
			mark = "✓"
		}
		fmt.Fprintf(out, "  %s %s (%.1f/%d): %s\n", mark, r.QuestionID, r.Earned, r.MaxPoints, r.Feedback)
	}
}

func loadExams(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}

		var exam model.Exam
		if err := json.Unmarshal(data, &exam); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := exam.Validate(); err != nil {
			return fmt.Errorf("validate %s: %w", path, err)
		}

		if err := db.UpsertExam(exam); err != nil {
			return fmt.Errorf("store exam from %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported exam", "path", path, "exam", exam.ID, "questions", len(exam.Questions))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or AGORA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
