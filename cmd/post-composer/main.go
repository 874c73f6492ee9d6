// Command post-composer builds social media posts from an HTML template and a
// background image or video, either sourced and scored automatically from a
// search query or supplied by the caller.
package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/post-composer/internal/auth"
	"github.com/fpang/post-composer/internal/cli"
	"github.com/fpang/post-composer/internal/config"
	"github.com/fpang/post-composer/internal/lambdaboot"
	"github.com/fpang/post-composer/internal/logging"
	"github.com/fpang/post-composer/internal/pipeline"
	"github.com/fpang/post-composer/internal/store"
)

// commitHash is set at build time with -ldflags.
var commitHash = "dev"

// CLI flags
var (
	postFlag          string
	templateFlag      string
	fieldFlags        []string
	outputFlag        string
	queryFlag         string
	subjectFlag       string
	maxCandidatesFlag int
	modelFlag         string
	skipValidateFlag  bool
	mediaFlag         string
	sessionFlag       string
)

var rootCmd = &cobra.Command{
	Use:   "post-composer",
	Short: "Compose social media posts from templates and sourced media",
	Long: `Post Composer fills an HTML post template with text fields, places a
background behind it and captures the result as a PNG, or as an MP4 when the
background is a video.

Configuration is read from .env and the environment (SEARCH_PROVIDER,
GEMINI_API_KEY, SERPER_API_KEY, STORE_BACKEND, ...).

Examples:
  post-composer run -q "monsoon flooding" -f headline="Roads **closed**"
  post-composer run -p post.json -q "monsoon flooding" -f trigger_warning=true
  post-composer compose -p post.json --media clip.mp4 -o out.mp4
  post-composer get --session 5f0c...`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Source a background for a query, score candidates and compose",
	RunE:  runRun,
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose a post onto a local image or video",
	RunE:  runCompose,
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a stored result by session id",
	RunE:  runGet,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, composeCmd} {
		c.Flags().StringVarP(&postFlag, "post", "p", "", "Post definition JSON (template, fields, edits)")
		c.Flags().StringVarP(&templateFlag, "template", "t", "news-card", "Built-in template, used when --post is not set")
		c.Flags().StringArrayVarP(&fieldFlags, "field", "f", nil, "Field override as name=value (repeatable)")
	}
	for _, c := range []*cobra.Command{runCmd, composeCmd, getCmd} {
		c.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (default post-<session>.<ext>)")
	}

	runCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Search query (prompted when empty)")
	runCmd.Flags().StringVarP(&subjectFlag, "subject", "s", "", "Text candidates are scored against (default: query)")
	runCmd.Flags().IntVarP(&maxCandidatesFlag, "max", "n", 0, "Maximum candidates to fetch (default 10)")
	runCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model for scoring (default GEMINI_MODEL)")
	runCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check before scoring")

	composeCmd.Flags().StringVar(&mediaFlag, "media", "", "Background image or video")
	composeCmd.MarkFlagRequired("media")

	getCmd.Flags().StringVar(&sessionFlag, "session", "", "Session id of the stored result")
	getCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(runCmd, composeCmd, getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (context.Context, context.CancelFunc, *config.Config) {
	logging.Init()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return ctx, cancel, cfg
}

func runRun(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, cancel, cfg := setup()
	defer cancel()

	post, err := loadPost()
	if err != nil {
		return err
	}

	query := queryFlag
	if query == "" {
		query = cli.PromptForQuery(os.Stdin, os.Stdout, "")
	}
	if query == "" {
		return fmt.Errorf("a search query is required")
	}

	resolveSearchKeys(cfg)
	model := modelFlag
	if model == "" {
		model = cfg.Scoring.Model
	}
	classifier := cli.InitClassifier(ctx, cfg.Scoring.GeminiAPIKey, model, !skipValidateFlag)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.FromConfig(cfg, pipeline.Deps{Classifier: classifier, Store: st})
	if err != nil {
		return err
	}
	startupLog(cfg, initStart).Config("model", classifier.Model()).Log()

	start := time.Now()
	res, err := p.Run(ctx, pipeline.Request{
		Query:         query,
		Subject:       subjectFlag,
		MaxCandidates: maxCandidatesFlag,
		Post:          post,
	})
	if err != nil {
		return err
	}
	return writeResult(res, time.Since(start))
}

func runCompose(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, cancel, cfg := setup()
	defer cancel()

	post, err := loadPost()
	if err != nil {
		return err
	}
	mediaPath := cli.ValidateAndResolveFile(mediaFlag)
	media, err := os.ReadFile(mediaPath)
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := pipeline.FromConfig(cfg, pipeline.Deps{Store: st})
	if err != nil {
		return err
	}
	startupLog(cfg, initStart).Log()

	start := time.Now()
	res, err := p.Compose(ctx, pipeline.ComposeRequest{
		Media:       media,
		ContentType: contentTypeOf(mediaPath, media),
		Post:        post,
	})
	if err != nil {
		return err
	}
	return writeResult(res, time.Since(start))
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg := setup()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no result store configured (set STORE_BACKEND)")
	}
	rec, err := st.Get(ctx, sessionFlag)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no result stored for session %s", sessionFlag)
	}

	fmt.Printf("Session:  %s\nTemplate: %s\nCreated:  %s\n", rec.SessionID, rec.TemplateName, rec.CreatedAt.Format(time.RFC3339))
	if rec.Query != "" {
		fmt.Printf("Query:    %s\nSource:   %s (score %.2f)\n", rec.Query, rec.SourceURL, rec.Score)
	}
	if len(rec.Payload) == 0 {
		return nil
	}
	path := outputPath(rec.SessionID, rec.ContentType)
	if err := os.WriteFile(path, rec.Payload, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Printf("Wrote %s (%s)\n", path, cli.FormatBytes(len(rec.Payload)))
	return nil
}

func loadPost() (pipeline.Post, error) {
	var (
		post pipeline.Post
		err  error
	)
	if postFlag != "" {
		post, err = cli.LoadPost(cli.ValidateAndResolveFile(postFlag))
	} else {
		post, err = cli.LoadBuiltinPost(templateFlag)
	}
	if err != nil {
		return pipeline.Post{}, err
	}
	if err := cli.ApplyFieldFlags(&post, fieldFlags); err != nil {
		return pipeline.Post{}, err
	}
	return post, nil
}

// resolveSearchKeys fills provider keys missing from the environment from
// the local encrypted credential store.
func resolveSearchKeys(cfg *config.Config) {
	switch cfg.Search.Provider {
	case "serper":
		if cfg.Search.SerperAPIKey == "" {
			if key, err := auth.GetAPIKey(auth.SerperKeyEnv); err == nil {
				cfg.Search.SerperAPIKey = key
			}
		}
	case "social":
		if cfg.Search.RapidAPIKey == "" {
			if key, err := auth.GetAPIKey(auth.RapidAPIKeyEnv); err == nil {
				cfg.Search.RapidAPIKey = key
			}
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.ResultStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
		return store.NewRedisStore(client, cfg.Store.TTL)
	case "dynamo":
		aws := lambdaboot.InitAWS()
		s3c := lambdaboot.InitS3(aws.Config, cfg.Store.PayloadBucket)
		return lambdaboot.InitDynamo(aws.Config, cfg.Store.DynamoTable, s3c, cfg.Store.TTL), nil
	}
	return nil, nil
}

func startupLog(cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	sl := lambdaboot.StartupLog("post-composer", initStart).
		CommitHash(commitHash).
		Provider("search", cfg.Search.Provider).
		Engine("render", "chromedp").
		Store("scratch", cfg.Scratch.BaseDir).
		Store("results", cfg.Store.Backend).
		Config("threshold", fmt.Sprintf("%.2f", cfg.Scoring.Threshold)).
		Config("media_concurrency", fmt.Sprint(cfg.MediaConcurrency))
	return sl
}

func writeResult(res *pipeline.Result, elapsed time.Duration) error {
	path := outputFlag
	if path == "" {
		path = outputPath(res.SessionID, res.ContentType)
	}
	if err := os.WriteFile(path, res.Output, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Print(cli.Summary(res, path, elapsed))
	return nil
}

func outputPath(sessionID, contentType string) string {
	if outputFlag != "" {
		return outputFlag
	}
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	ext := ".png"
	if strings.HasPrefix(contentType, "video/") {
		ext = ".mp4"
	}
	return "post-" + id + ext
}

// contentTypeOf prefers the file extension and falls back to sniffing.
func contentTypeOf(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		ct, _, _ = strings.Cut(ct, ";")
		return ct
	}
	ct, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return ct
}
