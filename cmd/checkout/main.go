// Command checkout buys credits or a subscription from the terminal. It
// creates a session through the configured endpoint chain, opens checkout in
// the browser, waits for the return page or the user, and verifies payment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cli/browser"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/transport"
	"github.com/CedrosPay/checkout/internal/verify"
	"github.com/CedrosPay/checkout/internal/window"
)

type options struct {
	configPath string
	envFile    string
	credits    int
	plan       string
	email      string
	firstName  string
	lastName   string
	guest      bool
	noBrowser  bool
	quick      bool
	verbose    bool
}

// env is the process surface run needs.
type env struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	openURL func(string) error
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	browser.Stdout = os.Stderr
	code := run(ctx, opts, env{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		openURL: browser.OpenURL,
	})
	os.Exit(code)
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to YAML config (environment overrides apply)")
	fs.StringVar(&o.envFile, "env", ".env", "dotenv file loaded before config; missing file is ignored")
	fs.IntVar(&o.credits, "credits", 0, "number of credits to buy")
	fs.StringVar(&o.plan, "plan", "", "subscription plan: monthly or yearly")
	fs.StringVar(&o.email, "email", "", "customer email")
	fs.StringVar(&o.firstName, "first", "", "customer first name")
	fs.StringVar(&o.lastName, "last", "", "customer last name")
	fs.BoolVar(&o.guest, "guest", false, "check out as a guest")
	fs.BoolVar(&o.noBrowser, "no-browser", false, "print the checkout URL instead of opening a browser")
	fs.BoolVar(&o.quick, "quick", false, "with -plan, open the hosted subscription link without creating a session")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if (o.credits > 0) == (o.plan != "") {
		fmt.Fprintln(fs.Output(), "exactly one of -credits or -plan is required")
		return options{}, errors.New("checkout: choose credits or plan")
	}
	if o.quick && o.plan == "" {
		fmt.Fprintln(fs.Output(), "-quick only applies to -plan")
		return options{}, errors.New("checkout: quick needs a plan")
	}
	return o, nil
}

func run(ctx context.Context, opts options, e env) int {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(e.stderr, "load %s: %v\n", opts.envFile, err)
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(e.stderr, "config: %s\n", apierrors.Describe(err))
		return 1
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:       level,
		Format:      "console",
		Service:     "checkout-cli",
		Environment: cfg.Stripe.Mode,
		Output:      e.stderr,
	})
	ctx = logger.WithContext(ctx, log)

	intent, err := buildIntent(opts)
	if err != nil {
		fmt.Fprintf(e.stderr, "%s\n", apierrors.Describe(err))
		return 2
	}

	completion, err := listenCompletion(cfg.Checkout.CompletionAddr, log)
	if err != nil {
		fmt.Fprintf(e.stderr, "%s\n", apierrors.Describe(err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = completion.Close(shutdownCtx)
	}()

	flow, orchestrator, err := newFlow(cfg, log, completion.Origin(), e)
	if err != nil {
		fmt.Fprintf(e.stderr, "%s\n", apierrors.Describe(err))
		return 1
	}

	if opts.quick {
		return quickSubscribe(ctx, orchestrator, opts, e)
	}

	if !opts.noBrowser {
		fmt.Fprintln(e.stdout, "Opening checkout in your browser. Press Enter here once you are done.")
	}
	outcome, err := flow.Purchase(ctx, intent, window.Capabilities{IsMobile: opts.noBrowser}, completion.Messages())
	if err != nil {
		fmt.Fprintf(e.stderr, "checkout failed: %s\n", apierrors.Describe(err))
		return 1
	}
	return report(e.stdout, outcome)
}

func buildIntent(opts options) (checkout.Intent, error) {
	customer := checkout.Customer{
		Email:     opts.email,
		FirstName: opts.firstName,
		LastName:  opts.lastName,
		IsGuest:   opts.guest,
	}
	if opts.plan != "" {
		return checkout.SubscriptionIntent(opts.plan, customer)
	}
	return checkout.CreditsIntent(opts.credits, customer), nil
}

func newFlow(cfg *config.Config, log zerolog.Logger, origin string, e env) (*checkout.Flow, *checkout.Orchestrator, error) {
	m := metrics.New(prometheus.NewRegistry())
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, circuitbreaker.WithLogger(log))

	client := transport.NewClient(cfg.Checkout.RequestTimeout.Duration,
		transport.WithFunctionsKey(cfg.Checkout.FunctionsKey),
		transport.WithOrigin(cfg.Checkout.Origin),
	)
	doer := transport.Guard(client, breakers)

	orchestrator, err := checkout.FromConfig(cfg, doer, m)
	if err != nil {
		return nil, nil, err
	}
	verifier := verify.FromConfig(cfg, doer, m)

	windows := window.NewManager(browserOpener(e.openURL, e.stdin), nil)
	reconciler := window.NewReconciler(origin,
		window.WithLifetime(cfg.Checkout.WindowLifetime.Duration),
		window.WithPollInterval(cfg.Checkout.PollInterval.Duration),
		window.WithMetrics(m),
	)

	flow := checkout.NewFlow(orchestrator, windows, reconciler, verifier, checkout.Callbacks{
		OnPaid: func(res verify.Result) {
			log.Debug().Int("credits", res.Credits).Str("channel", res.Channel).Msg("checkout.paid")
		},
		OnCancelled: func(code apierrors.ErrorCode) {
			log.Debug().Str("code", string(code)).Msg("checkout.cancelled")
		},
	})
	return flow, orchestrator, nil
}

// quickSubscribe opens the static plan link. Nothing can be verified, so the
// purchase is reported as pending.
func quickSubscribe(ctx context.Context, o *checkout.Orchestrator, opts options, e env) int {
	session, err := o.QuickSubscribe(ctx, opts.plan, opts.email)
	if err != nil {
		fmt.Fprintf(e.stderr, "%s\n", apierrors.Describe(err))
		return 1
	}
	if opts.noBrowser || e.openURL(session.URL) != nil {
		fmt.Fprintf(e.stdout, "Subscribe at: %s\n", session.URL)
	}
	fmt.Fprintln(e.stdout, "Your subscription starts once the payment is confirmed.")
	return 0
}

// report prints the outcome and returns the process exit code.
func report(w io.Writer, o checkout.Outcome) int {
	switch o.Kind {
	case checkout.OutcomePaid:
		fmt.Fprintln(w, o.Message)
		if o.Verification.Credits > 0 {
			fmt.Fprintf(w, "Credits added: %d\n", o.Verification.Credits)
		}
		if o.Verification.Amount != nil {
			fmt.Fprintf(w, "Amount: $%s\n", o.Verification.Amount.StringFixed(2))
		}
		return 0
	case checkout.OutcomePending:
		fmt.Fprintln(w, o.Message)
		return 0
	case checkout.OutcomeRedirect:
		fmt.Fprintln(w, o.Message)
		if o.Session != nil {
			fmt.Fprintf(w, "Checkout URL: %s\n", o.Session.URL)
		}
		return 0
	default:
		fmt.Fprintf(w, "%s (%s)\n", o.Message, o.Code)
		return 1
	}
}
