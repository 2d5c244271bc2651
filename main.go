package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/docopt/docopt-go"

	notesApp "notespace/internal/app"
	"notespace/internal/config"
	"notespace/internal/logging"
	"notespace/internal/secret"
)

const Version = "0.1.0"

var Out *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
}

func main() {
	usage := `Notespace: offline-first workspace of nested pages and blocks.

The config file is read from $NOTESPACE_CONFIG, or
~/.config/notespace/config.json when unset.

Usage:
    notespace mcp
    notespace hub [--addr=<addr>]
    notespace export [<page_id>]
    notespace invite [--role=<role>]
    notespace accept <token>
    notespace approvals
    notespace approve <approval_id>
    notespace reject <approval_id>
    notespace -h | --help
    notespace --version

Options:
    -h --help        Show this screen.
    --version        Show version.
    --addr=<addr>    Hub listen address, overrides hubAddr.
    --role=<role>    Role granted by the invite: editor or viewer [default: editor].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(config.Path(os.Getenv), os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(logging.Options{Path: cfg.Log.Path, Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if hub, _ := opts.Bool("hub"); hub {
		if addr, _ := opts.String("--addr"); addr != "" {
			cfg.HubAddr = addr
		}
		if err := notesApp.ServeHub(ctx, cfg, logger.Logger); err != nil {
			logger.Fatal().Err(err).Msg("hub")
		}
		return
	}

	if approvals, _ := opts.Bool("approvals"); approvals {
		listApprovals(ctx, cfg)
		return
	}
	if approve, _ := opts.Bool("approve"); approve {
		resolveApproval(ctx, cfg, opts, true)
		return
	}
	if reject, _ := opts.Bool("reject"); reject {
		resolveApproval(ctx, cfg, opts, false)
		return
	}

	app := notesApp.New(cfg, secret.Default(runtime.GOOS), logger.Logger)
	if err := app.Startup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.Shutdown(shutdownCtx)
	}()

	if mcp, _ := opts.Bool("mcp"); mcp {
		if err := app.ServeMCP(ctx, Version); err != nil {
			logger.Error().Err(err).Msg("mcp server")
		}
	} else if export, _ := opts.Bool("export"); export {
		pageID, _ := opts.String("<page_id>")
		text, err := app.Export(pageID)
		if err != nil {
			logger.Error().Err(err).Msg("export")
			return
		}
		Out.Println(text)
	} else if invite, _ := opts.Bool("invite"); invite {
		role, _ := opts.String("--role")
		inv, err := app.Invite(ctx, role)
		if err != nil {
			logger.Error().Err(err).Msg("invite")
			return
		}
		out, _ := json.MarshalIndent(inv, "", "  ")
		Out.Println(string(out))
	} else if accept, _ := opts.Bool("accept"); accept {
		token, _ := opts.String("<token>")
		res, err := app.Accept(ctx, token)
		if err != nil {
			logger.Error().Err(err).Msg("accept")
			return
		}
		if res.AlreadyMember {
			Out.Printf("already a member of %s", res.Member.WorkspaceID)
		} else {
			Out.Printf("joined %s as %s", res.Member.WorkspaceID, res.Member.Role)
		}
	}
}

func listApprovals(ctx context.Context, cfg config.Config) {
	store, closer, err := notesApp.OpenApprovals(cfg)
	if err != nil {
		log.Fatalf("approvals: %v", err)
	}
	defer closer.Close()

	pending, err := store.Pending(ctx)
	if err != nil {
		log.Fatalf("approvals: %v", err)
	}
	if len(pending) == 0 {
		Out.Println("no pending approvals")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOOL\tREQUESTED\tDESCRIPTION")
	for _, a := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Tool, a.CreatedAt.Local().Format(time.DateTime), a.Description)
	}
	tw.Flush()
}

func resolveApproval(ctx context.Context, cfg config.Config, opts docopt.Opts, approved bool) {
	id, _ := opts.String("<approval_id>")
	store, closer, err := notesApp.OpenApprovals(cfg)
	if err != nil {
		log.Fatalf("approvals: %v", err)
	}
	defer closer.Close()

	if err := store.Resolve(ctx, id, approved); err != nil {
		log.Fatalf("resolve %s: %v", id, err)
	}
	if approved {
		Out.Printf("approved %s", id)
	} else {
		Out.Printf("rejected %s", id)
	}
}
