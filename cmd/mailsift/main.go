package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/export"
	"github.com/mailsift/mailsift/internal/ingest"
	"github.com/mailsift/mailsift/internal/model"
	"github.com/mailsift/mailsift/internal/notify"
	"github.com/mailsift/mailsift/internal/queue"
	"github.com/mailsift/mailsift/internal/source"
)

var (
	cfgFile string
	verbose bool
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailsift",
		Short: "mailsift - clean, classify and analyze inbound email",
		Long: `mailsift pulls email from IMAP accounts, mailbox files or a message
queue, strips quoted replies, greetings and signatures, stores the cleaned
text, and reports categories, sentiment and keywords over it.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mailsift/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(digestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long:  "Create a new configuration file with a store location and an optional IMAP account.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(os.Stdin)
		},
	}
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("mailsift configuration setup")
	fmt.Println("============================")
	fmt.Println()

	cfg := config.Default()

	driver := prompt(reader, "Store driver (sqlite/postgres) [sqlite]: ")
	if driver == "postgres" {
		cfg.Store.Driver = "postgres"
		cfg.Store.Path = ""
		cfg.Store.DSN = prompt(reader, "  Postgres DSN: ")
	} else if path := prompt(reader, fmt.Sprintf("  Database path [%s]: ", cfg.Store.Path)); path != "" {
		cfg.Store.Path = path
	}

	fmt.Println()
	if name := prompt(reader, "IMAP account display name (blank to skip): "); name != "" {
		acct := config.IMAPAccount{
			Name:     name,
			Stream:   prompt(reader, "  Stream: "),
			Provider: prompt(reader, "  Provider (gmail/outlook/imap) [gmail]: "),
			Email:    prompt(reader, "  Email address: "),
			Password: prompt(reader, "  App password: "),
		}
		if acct.Provider == "" {
			acct.Provider = "gmail"
		}
		if acct.Provider == "imap" {
			acct.Server = prompt(reader, "  IMAP server: ")
		}
		cfg.Sources.Accounts = append(cfg.Sources.Accounts, acct)
	}

	fmt.Println()
	cfg.Redis.Addr = prompt(reader, "Redis address for caching and dedup (blank to skip): ")

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit the config file if needed")
	fmt.Println("  2. Run 'mailsift ingest imap' or 'mailsift ingest file <messages.jsonl>'")
	fmt.Println("  3. Run 'mailsift stats' or 'mailsift serve'")
	return nil
}

func prompt(reader *bufio.Reader, message string) string {
	fmt.Print(message)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func ingestCmd() *cobra.Command {
	var account, stream string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Clean messages from a source and store them",
	}
	cmd.PersistentFlags().StringVar(&account, "account", "", "account name to attribute file messages to")
	cmd.PersistentFlags().StringVar(&stream, "stream", "", "stream to attribute file messages to")
	owner := func() source.Owner { return source.Owner{Account: account, Stream: stream} }

	cmd.AddCommand(&cobra.Command{
		Use:   "file <messages.jsonl>",
		Short: "Ingest a JSON Lines file of raw messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(source.JSONL{Path: args[0], Owner: owner()})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "mbox <file>",
		Short: "Ingest an mbox file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(source.Mbox{Path: args[0], Owner: owner()})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "eml <dir>",
		Short: "Ingest a directory of .eml files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(source.EMLDir{Dir: args[0], Owner: owner()})
		},
	})

	var days int
	imapCmd := &cobra.Command{
		Use:   "imap",
		Short: "Ingest recent mail from the configured IMAP accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestIMAP(account, days)
		},
	}
	imapCmd.Flags().IntVar(&days, "days", 0, "look back this many days (default: per-account since_days)")
	cmd.AddCommand(imapCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "queue",
		Short: "Consume raw messages from the AMQP queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestQueue()
		},
	})

	return cmd
}

func printReport(rep ingest.Report) {
	fmt.Printf("Job %s finished in %s\n", rep.JobID, rep.Duration.Round(time.Millisecond))
	fmt.Printf("  Received:  %d\n", rep.Received)
	fmt.Printf("  Filtered:  %d\n", rep.Filtered)
	fmt.Printf("  Seen:      %d\n", rep.Seen)
	fmt.Printf("  Processed: %d\n", rep.Processed)
	fmt.Printf("  Discarded: %d\n", rep.Discarded)
	fmt.Printf("  Inserted:  %d\n", rep.Inserted)
}

func runIngest(sources ...source.Source) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	r, err := a.runner(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		rep, err := r.RunSource(ctx, src)
		printReport(rep)
		if err != nil {
			return err
		}
	}
	return nil
}

func runIngestIMAP(only string, days int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	if err := a.cfg.ValidateIMAP(); err != nil {
		a.close()
		fmt.Println("IMAP ingest is not configured. Add accounts under sources.accounts in config.yaml:")
		fmt.Println()
		fmt.Println("sources:")
		fmt.Println("  accounts:")
		fmt.Println("    - name: Jamie Doe")
		fmt.Println("      stream: Engineering")
		fmt.Println("      provider: gmail")
		fmt.Println("      email: you@gmail.com")
		fmt.Println("      password: your-app-password")
		return err
	}
	accounts := a.cfg.Sources.Accounts
	if path := a.cfg.Sources.MailboxPaths; path != "" {
		sets, err := source.LoadMailboxPaths(path)
		if err != nil {
			a.close()
			return err
		}
		var unmatched []string
		accounts, unmatched = source.ApplyMailboxSets(accounts, sets, "Artsci")
		for _, name := range unmatched {
			a.logger.Warn("mailbox set matches no configured account", zap.String("account", name))
		}
	}
	a.close()

	if only != "" {
		names := make([]string, len(accounts))
		for i, acct := range accounts {
			names[i] = acct.Name
		}
		only = source.ResolveAccount(only, names, "Artsci")
	}

	var sources []source.Source
	for _, acct := range accounts {
		if only != "" && acct.Name != only {
			continue
		}
		if days > 0 {
			acct.SinceDays = days
		}
		sources = append(sources, source.NewIMAP(acct, a.logger))
	}
	if len(sources) == 0 {
		return fmt.Errorf("no configured account matches %q", only)
	}
	return runIngest(sources...)
}

func runIngestQueue() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Sources.AMQP.URL == "" {
		return fmt.Errorf("sources.amqp.url is not configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, err := a.runner(ctx)
	if err != nil {
		return err
	}
	consumer, err := queue.NewConsumer(a.cfg.Sources.AMQP, func(ctx context.Context, msgs []model.RawMessage) error {
		rep, err := r.Run(ctx, msgs)
		a.logger.Info("queue batch ingested",
			zap.String("job", rep.JobID),
			zap.Int("received", rep.Received),
			zap.Int("inserted", rep.Inserted))
		return err
	}, a.logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	fmt.Printf("Consuming %s (Ctrl+C to stop)\n", a.cfg.Sources.AMQP.Queue)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <messages.jsonl>",
		Short: "Publish raw messages from a JSON Lines file to the AMQP queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			msgs, err := source.JSONL{Path: args[0]}.Fetch(ctx)
			if err != nil {
				return err
			}
			pub, err := queue.NewPublisher(a.cfg.Sources.AMQP)
			if err != nil {
				return err
			}
			defer pub.Close()

			for i, msg := range msgs {
				if err := pub.Publish(ctx, msg); err != nil {
					return fmt.Errorf("failed to publish message %d: %w", i+1, err)
				}
			}
			fmt.Printf("Published %d messages to %s\n", len(msgs), a.cfg.Sources.AMQP.Exchange)
			return nil
		},
	}
}

func classifyCmd() *cobra.Command {
	var subject string
	var clean bool

	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify and score one text (reads stdin without arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				text = string(data)
			}
			if clean {
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				text = p.Clean(text)
			}

			an, err := a.analyzer()
			if err != nil {
				return err
			}
			e := an.Analyze([]model.CleanedEmail{{Subject: subject, Content: text}})[0]

			fmt.Printf("Category:   %s\n", e.Classification.Category)
			fmt.Printf("Confidence: %.2f\n", e.Classification.Confidence)
			if len(e.Classification.MatchedKeywords) > 0 {
				fmt.Printf("Keywords:   %s\n", strings.Join(e.Classification.MatchedKeywords, ", "))
			}
			fmt.Printf("Sentiment:  %s (%.4f)\n", e.Sentiment.Label, e.Sentiment.Polarity)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().BoolVar(&clean, "clean", false, "run the cleaning pipeline first")
	return cmd
}

func statsCmd() *cobra.Command {
	var stream string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show category, sentiment and keyword statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			emails, err := a.analyzed(ctx, stream)
			if err != nil {
				return err
			}
			an, err := a.analyzer()
			if err != nil {
				return err
			}

			overall := analytics.ComputeOverall(emails)
			cats := an.CategoryStats(emails)
			dist := analytics.SentimentDistribution(emails)
			top := analytics.TopKeywords(emails, 10)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"overall":    overall,
					"categories": cats,
					"sentiment":  dist,
					"keywords":   top,
				})
			}

			fmt.Println("mailsift statistics")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("  Emails: %d\n", overall.TotalEmails)
			if len(overall.DateRange) == 2 {
				fmt.Printf("  Range:  %s to %s\n", overall.DateRange[0], overall.DateRange[1])
			}
			fmt.Printf("  People: %d\n", overall.UniquePeople)
			fmt.Println()
			fmt.Println("Categories:")
			for _, name := range append(an.Classifier().Table().Names(), model.Uncategorized) {
				if n := cats.CategoryCounts[name]; n > 0 {
					fmt.Printf("  %-24s %4d  (mean confidence %.1f)\n", name, n, cats.ConfidenceByCategory[name])
				}
			}
			fmt.Println()
			fmt.Println("Sentiment:")
			for _, l := range []model.SentimentLabel{model.Positive, model.Neutral, model.Negative} {
				fmt.Printf("  %-8s %4d\n", l, dist[l])
			}
			if len(top) > 0 {
				fmt.Println()
				fmt.Println("Top keywords:")
				for _, k := range top {
					fmt.Printf("  %-16s %4d\n", k.Word, k.Count)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "only this stream")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func exportCmd() *cobra.Command {
	var date, account, stream, dir string
	var all bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export analyzed emails to CSV",
		Long: `Export the emails received on one day (default: yesterday) or, with --all,
every email received before today, to <dir>/<account>_<dd-mm-yyyy>.csv or
<dir>/<account>_all.csv.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			emails, err := st.All(ctx)
			if err != nil {
				return err
			}
			emails = analytics.FilterStream(emails, stream)

			now := time.Now().UTC()
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			var day time.Time
			if all {
				emails = export.Before(emails, today)
			} else {
				day = today.AddDate(0, 0, -1)
				if date != "" {
					if day, err = export.ParseDay(date); err != nil {
						return err
					}
				}
				emails = export.OnDay(emails, day)
			}
			if len(emails) == 0 {
				fmt.Println("No emails to export.")
				return nil
			}

			an, err := a.analyzer()
			if err != nil {
				return err
			}
			path, err := export.WriteFile(dir, export.Filename(account, day), an.Analyze(emails))
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d emails to %s\n", len(emails), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to export (DD-MM-YYYY, default yesterday)")
	cmd.Flags().BoolVar(&all, "all", false, "export everything received before today")
	cmd.Flags().StringVar(&account, "account", "", "name used in the file name")
	cmd.Flags().StringVar(&stream, "stream", "", "only this stream")
	cmd.Flags().StringVar(&dir, "dir", "csv_files", "output directory")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the analytics API",
		Long: `Start the HTTP API serving dashboard analytics over the stored emails.

Every GET endpoint under /api accepts ?stream= to restrict results to one
stream. POST /api/ingest accepts JSON Lines uploads and ingests them in the
background. Prometheus metrics are exposed at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	an, err := a.analyzer()
	if err != nil {
		return err
	}
	r, err := a.runner(ctx)
	if err != nil {
		return err
	}

	deps := api.Deps{Store: st, Analyzer: an, Runner: r, Logger: a.logger}
	if rc := a.redisClient(); rc != nil {
		deps.Cache = api.NewRedisCache(rc)
	}

	cfg := a.cfg.Server
	if port != 0 {
		cfg.Port = port
	}
	server, err := api.NewServer(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	fmt.Printf("Serving mailsift API at http://localhost:%d\n", cfg.Port)
	fmt.Println("Press Ctrl+C to stop")
	return server.Start()
}

func digestCmd() *cobra.Command {
	var stream string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Email a summary of categories, sentiment and keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			emails, err := a.analyzed(ctx, stream)
			if err != nil {
				return err
			}
			data := notify.BuildDigest(emails, stream, time.Now())

			if dryRun {
				r, err := notify.NewRenderer()
				if err != nil {
					return err
				}
				text, _, err := r.Render(data)
				if err != nil {
					return err
				}
				fmt.Print(text)
				return nil
			}

			if err := a.cfg.ValidateDigest(); err != nil {
				return err
			}
			sender, err := notify.NewSender(a.cfg.Digest)
			if err != nil {
				return err
			}
			results, err := notify.SendDigest(ctx, sender, a.cfg.Digest, data)
			for i, res := range results {
				if res.Success {
					fmt.Printf("✅ Sent to %s (%s)\n", a.cfg.Digest.To[i], res.MessageID)
				} else {
					fmt.Printf("❌ %s: %v\n", a.cfg.Digest.To[i], res.Error)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "only this stream")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of sending it")
	return cmd
}
