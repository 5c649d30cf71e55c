// Command urpm is the CLI front-end: a thin contract-exerciser over the
// resolver/transaction/catalog core (spec.md §1 places the command-line
// front-end's interactive rendering out of scope). It wires the same
// collaborators cmd/urpmd does, directly, and renders results with
// text/tabwriter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/catalog"
	"github.com/urpm-project/urpm/config"
	"github.com/urpm-project/urpm/daemon"
	"github.com/urpm-project/urpm/internal/logctx"
	"github.com/urpm-project/urpm/internal/rpm"
	"github.com/urpm-project/urpm/internal/rpmexec"
	"github.com/urpm-project/urpm/resolver"
	"github.com/urpm-project/urpm/transaction"
)

// app holds every collaborator a subcmd needs, plus the output writer and
// global switches (teacher's commonConfig, generalized).
type app struct {
	d        *daemon.Daemon
	out      *tabwriter.Writer
	json     bool
	dryRun   bool
	yes      bool
}

type subcmd func(ctx context.Context, a *app, args []string) error

func main() {
	os.Exit(run())
}

func run() int {
	slog.SetDefault(slog.New(logctx.WrapHandler(slog.NewTextHandler(os.Stderr, nil))))

	fs := flag.NewFlagSet("urpm", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a urpm YAML config file")
	root := fs.String("root", "", "installation root (overrides config)")
	jsonOut := fs.Bool("json", false, "accepted; every verb prints tabular output")
	dryRun := fs.Bool("test", false, "dry run: resolve but do not execute")
	yes := fs.Bool("auto", false, "assume yes to every confirmation")
	fs.BoolVar(yes, "y", false, "alias for --auto")
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s [flags] <verb> [args]\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintln(out, "\nVerbs: install (i), remove/erase (e), upgrade (up), search (s), show/info, list,")
		fmt.Fprintln(out, "  provides/whatprovides, depends/requires (d), recommends, suggests,")
		fmt.Fprintln(out, "  rdepends/whatrequires (rd), whatrecommends, whatsuggests, find, files, why,")
		fmt.Fprintln(out, "  download, key, config, history, undo, rollback, hold, unhold, cache,")
		fmt.Fprintln(out, "  media <list|add|remove|enable|disable|set|link|seed-info|import|update>,")
		fmt.Fprintln(out, "  server <list|add|remove|enable|disable|priority|test|ip-mode|autoconfig>,")
		fmt.Fprintln(out, "  peer <list|downloads|clean>, mark, autoremove, mirror sync, build, mkimage")
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 4
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 4
	}
	if *root != "" {
		cfg.Root = *root
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := catalog.Open(ctx, cfg.CatalogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 4
	}
	defer store.Close()

	installed := rpm.Installed{Root: cfg.Root}
	d := daemon.New(cfg, store, installed, new(rpmexec.Stub), "cooker", runtime.GOARCH)

	a := &app{
		d:      d,
		out:    tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0),
		json:   *jsonOut,
		dryRun: *dryRun,
		yes:    *yes,
	}
	defer a.out.Flush()

	verb := fs.Arg(0)
	cmd, ok := verbs[verb]
	if !ok {
		fs.Usage()
		if verb != "" {
			fmt.Fprintf(os.Stderr, "\nunknown verb %q\n", verb)
		}
		return 4
	}

	if err := cmd(ctx, a, fs.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	return 0
}

// verbs is the verb-dispatch table (teacher cmd/cctool's `switch n :=
// fs.Arg(0)` idiom, generalized to a map since this front-end has far more
// verbs than cctool's single "report").
var verbs = map[string]subcmd{
	"install": cmdTransaction(resolver.JobInstall),
	"i":       cmdTransaction(resolver.JobInstall),
	"remove":  cmdTransaction(resolver.JobErase),
	"erase":   cmdTransaction(resolver.JobErase),
	"e":       cmdTransaction(resolver.JobErase),
	"upgrade": cmdUpgrade,
	"up":      cmdUpgrade,
	"search":  cmdSearch,
	"s":       cmdSearch,
	"show":    cmdSearch,
	"info":    cmdSearch,

	"provides":     cmdProvides,
	"whatprovides": cmdProvides,
	"depends":      cmdCapability("requires"),
	"requires":     cmdCapability("requires"),
	"d":            cmdCapability("requires"),
	"recommends":   cmdCapability("recommends"),
	"suggests":     cmdCapability("suggests"),
	"rdepends":     cmdConsumers("requires"),
	"whatrequires": cmdConsumers("requires"),
	"rd":           cmdConsumers("requires"),
	"whatrecommends": cmdConsumers("recommends"),
	"whatsuggests":   cmdConsumers("suggests"),

	"find":  cmdFind,
	"files": cmdFiles,
	"why":   cmdWhy,

	"download": cmdDownload,
	"key":      cmdKey,
	"config":   cmdConfigShow,

	"list": cmdListInstalled,

	"history":  cmdHistory,
	"undo":     cmdUndo,
	"rollback": cmdRollback,
	"hold":     cmdHold,
	"unhold":   cmdUnhold,
	"cache":    cmdCacheInfo,

	"media":  cmdMedia,
	"server": cmdServer,
	"peer":   cmdPeer,

	"mark":      cmdNotImplemented("mark", "install-reason tracking is not modeled by the catalog schema"),
	"autoremove": cmdNotImplemented("autoremove", "requires the same install-reason tracking as mark"),
	"mirror":    cmdMirror,
	"build":     cmdNotImplemented("build", "package building is out of scope"),
	"mkimage":   cmdNotImplemented("mkimage", "image composition is out of scope"),
}

// exitCode maps an urpm.Error's Kind onto spec.md §6's exit-code table.
func exitCode(err error) int {
	var uerr *urpm.Error
	if !asURPMError(err, &uerr) {
		return 1
	}
	switch uerr.Kind {
	case urpm.ErrResolver:
		return 1
	case urpm.ErrEnvironment:
		return 2
	case urpm.ErrTransaction:
		return 3
	case urpm.ErrUser:
		return 4
	default:
		return 1
	}
}

func asURPMError(err error, target **urpm.Error) bool {
	for err != nil {
		if ue, ok := err.(*urpm.Error); ok {
			*target = ue
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// cmdTransaction builds a verb that resolves a single-target job (install
// or remove) for every argument, then runs the resulting transaction
// through the engine unless --test was given.
func cmdTransaction(kind resolver.JobKind) subcmd {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdTransaction", Message: "at least one package name is required"}
		}
		jobs := make([]resolver.Job, len(args))
		for i, name := range args {
			jobs[i] = resolver.Job{Kind: kind, Target: name}
		}
		return a.resolveAndRun(ctx, jobs)
	}
}

func cmdUpgrade(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return a.resolveAndRun(ctx, []resolver.Job{{Kind: resolver.JobDistUpgrade}})
	}
	jobs := make([]resolver.Job, len(args))
	for i, name := range args {
		jobs[i] = resolver.Job{Kind: resolver.JobUpgrade, Target: name}
	}
	return a.resolveAndRun(ctx, jobs)
}

func (a *app) resolveAndRun(ctx context.Context, jobs []resolver.Job) error {
	held, err := a.d.Store.Holds(ctx)
	if err != nil {
		return err
	}
	heldSet := make(map[string]bool, len(held))
	for _, h := range held {
		heldSet[h.Name] = true
	}

	tx, err := a.d.Resolve(ctx, jobs, resolver.Options{
		Held:         heldSet,
		SystemArch:   a.d.Config.Resolver.Arch,
		SystemLocale: a.d.Config.Resolver.Locale,
	})
	if err != nil {
		return err
	}
	printTransaction(a, tx)
	if a.dryRun {
		return nil
	}
	return a.d.Engine.Run(ctx, tx, a.progressFunc())
}

func printTransaction(a *app, tx *resolver.Transaction) {
	fmt.Fprintln(a.out, "ACTION\tNEVRA")
	for _, c := range tx.ToInstall {
		fmt.Fprintf(a.out, "install\t%s\n", c.NEVRA)
	}
	for _, c := range tx.ToUpgrade {
		fmt.Fprintf(a.out, "upgrade\t%s\n", c.NEVRA)
	}
	for _, c := range tx.ToErase {
		fmt.Fprintf(a.out, "erase\t%s\n", c.NEVRA)
	}
}

func cmdSearch(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdSearch", Message: "a package name is required"}
	}
	candidates, err := a.d.Index.ByName(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA\tINSTALLED\tHELD")
	for _, c := range candidates {
		fmt.Fprintf(a.out, "%s\t%v\t%v\n", c.NEVRA, c.Installed, c.Held)
	}
	return nil
}

func cmdProvides(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdProvides", Message: "a capability name is required"}
	}
	candidates, err := a.d.Index.Providers(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA")
	for _, c := range candidates {
		fmt.Fprintf(a.out, "%s\n", c.NEVRA)
	}
	return nil
}

func cmdListMedia(ctx context.Context, a *app, args []string) error {
	medias, err := a.d.Store.Media(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NAME\tENABLED\tUPDATE\tPRIORITY")
	for _, m := range medias {
		fmt.Fprintf(a.out, "%s\t%v\t%v\t%d\n", m.Name, m.Enabled, m.Update, m.Priority)
	}
	return nil
}

// cmdListInstalled is the bare "list" verb: every package installed on
// this machine, distinct from "media list"'s configured-repository listing.
func cmdListInstalled(ctx context.Context, a *app, args []string) error {
	nevras, err := a.d.Installed.Installed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA")
	for _, n := range nevras {
		fmt.Fprintf(a.out, "%s\n", n)
	}
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	entries, err := a.d.History.Source.Entries(ctx, 20)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ID\tSTATE\tINSTALLED\tUPGRADED\tERASED")
	for _, e := range entries {
		fmt.Fprintf(a.out, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.State,
			strings.Join(e.Installed, ","), strings.Join(e.Upgraded, ","), strings.Join(e.Erased, ","))
	}
	return nil
}

func cmdUndo(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdUndo", Message: "a history id is required"}
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return a.d.History.Undo(ctx, id, a.progressFunc())
}

func cmdRollback(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdRollback", Message: "a step count is required"}
	}
	n, err := parseID(args[0])
	if err != nil {
		return err
	}
	return a.d.History.RollbackN(ctx, int(n), a.progressFunc())
}

// progressFunc returns a ProgressFunc that renders each step as a tabular
// line, shared by every verb that drives the engine.
func (a *app) progressFunc() transaction.ProgressFunc {
	return func(p transaction.Progress) {
		fmt.Fprintf(a.out, "%s\t%s\t%d%%\n", p.Phase, p.NEVRA, p.Percent)
	}
}

func cmdHold(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdHold", Message: "a package name is required"}
	}
	return a.d.Store.SetHold(ctx, catalog.Hold{Name: args[0]})
}

func cmdUnhold(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdUnhold", Message: "a package name is required"}
	}
	return a.d.Store.ClearHold(ctx, args[0])
}

func cmdCacheInfo(ctx context.Context, a *app, args []string) error {
	medias, err := a.d.Store.Media(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "MEDIA\tQUOTA_BYTES\tRETENTION_DAYS")
	for _, m := range medias {
		fmt.Fprintf(a.out, "%s\t%d\t%d\n", m.Name, m.QuotaBytes, m.RetentionDays)
	}
	return nil
}

func parseID(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, &urpm.Error{Kind: urpm.ErrUser, Op: "parseID", Inner: err, Message: fmt.Sprintf("%q is not a number", s)}
	}
	return n, nil
}

// cmdCapability builds a verb that lists one capability kind
// (requires/recommends/suggests) declared by every cataloged build of a
// named package.
func cmdCapability(kind string) subcmd {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdCapability", Message: "a package name is required"}
		}
		candidates, err := a.d.Index.ByName(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "NEVRA\tCAPABILITY")
		for _, c := range candidates {
			var caps []urpm.Capability
			switch kind {
			case "recommends":
				caps = c.Recommends
			case "suggests":
				caps = c.Suggests
			default:
				caps = c.Requires
			}
			for _, want := range caps {
				fmt.Fprintf(a.out, "%s\t%s\n", c.NEVRA, want)
			}
		}
		return nil
	}
}

// cmdConsumers builds a verb that lists every cataloged package whose
// capability list of the given kind names the argument — the reverse
// direction of cmdCapability, backing rdepends/whatrequires/
// whatrecommends/whatsuggests.
func cmdConsumers(kind string) subcmd {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdConsumers", Message: "a capability name is required"}
		}
		nevras, err := a.d.Store.CapabilityConsumers(ctx, kind, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "NEVRA")
		for _, n := range nevras {
			fmt.Fprintf(a.out, "%s\n", n)
		}
		return nil
	}
}

// cmdFind is the "find" verb: a wildcard file search over every cataloged
// package's file list (spec.md §4.2).
func cmdFind(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdFind", Message: "a file pattern is required"}
	}
	matches, err := a.d.Store.SearchFiles(ctx, args[0], 200)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA\tPATH")
	for _, m := range matches {
		fmt.Fprintf(a.out, "%s\t%s\n", m.NEVRA, m.Path)
	}
	return nil
}

// cmdFiles is the "files" verb: every cataloged file sharing a basename
// with the argument (e.g. "files libc.so.6").
func cmdFiles(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdFiles", Message: "a file basename is required"}
	}
	matches, err := a.d.Store.FilesByBasename(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA\tPATH")
	for _, m := range matches {
		fmt.Fprintf(a.out, "%s\t%s\n", m.NEVRA, m.Path)
	}
	return nil
}

// cmdWhy reports every cataloged package that pulls in the argument,
// directly (requires) or softly (recommends/suggests) — a shallow
// explanation of why a capability would end up installed, one hop deep.
func cmdWhy(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdWhy", Message: "a package or capability name is required"}
	}
	fmt.Fprintln(a.out, "NEVRA\tVIA")
	for _, kind := range []string{"requires", "recommends", "suggests"} {
		nevras, err := a.d.Store.CapabilityConsumers(ctx, kind, args[0])
		if err != nil {
			return err
		}
		for _, n := range nevras {
			fmt.Fprintf(a.out, "%s\t%s\n", n, kind)
		}
	}
	return nil
}

// cmdDownload resolves and downloads (but does not install) every named
// package's artifact into the cache, printing the cached path for each.
func cmdDownload(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdDownload", Message: "at least one package name is required"}
	}
	var arts []transaction.Artifact
	for _, name := range args {
		candidates, err := a.d.Index.ByName(ctx, name)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "cmdDownload", Message: fmt.Sprintf("%s is not cataloged by any media", name)}
		}
		art, err := a.d.Index.Artifact(ctx, candidates[0].NEVRA)
		if err != nil {
			return err
		}
		arts = append(arts, art)
	}
	paths, err := a.d.Pool.FetchAll(ctx, arts)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA\tPATH")
	for i, p := range paths {
		fmt.Fprintf(a.out, "%s\t%s\n", arts[i].NEVRA, p)
	}
	return nil
}

// cmdKey is the "key" verb: the GPG key id each installed package's header
// claims to be signed with, read from the on-disk RPM database (the
// signature packet itself is parsed by internal/rpm's header reader; this
// only surfaces what it already extracted).
func cmdKey(ctx context.Context, a *app, args []string) error {
	installed, ok := a.d.Installed.(rpm.Installed)
	if !ok {
		return &urpm.Error{Kind: urpm.ErrEnvironment, Op: "cmdKey", Message: "installed-package reader does not support key inspection"}
	}
	signers, err := installed.Signers(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NEVRA\tKEY")
	for _, s := range signers {
		key := s.KeyID
		if key == "" {
			key = "(unsigned)"
		}
		fmt.Fprintf(a.out, "%s\t%s\n", s.NEVRA, key)
	}
	return nil
}

// cmdConfigShow prints the effective configuration the daemon/CLI loaded,
// the "config" verb (spec.md §6).
func cmdConfigShow(ctx context.Context, a *app, args []string) error {
	cfg := a.d.Config
	fmt.Fprintln(a.out, "KEY\tVALUE")
	fmt.Fprintf(a.out, "root\t%s\n", cfg.Root)
	fmt.Fprintf(a.out, "catalog_path\t%s\n", cfg.CatalogPath)
	fmt.Fprintf(a.out, "cache_root\t%s\n", cfg.CacheRoot)
	fmt.Fprintf(a.out, "daemon.addr\t%s\n", cfg.Daemon.Addr)
	fmt.Fprintf(a.out, "resolver.arch\t%s\n", cfg.Resolver.Arch)
	fmt.Fprintf(a.out, "resolver.locale\t%s\n", cfg.Resolver.Locale)
	return nil
}

// cmdMedia dispatches "media <subverb>" (spec.md §6's media-management
// surface).
func cmdMedia(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return cmdListMedia(ctx, a, args)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return cmdListMedia(ctx, a, rest)
	case "add":
		if len(rest) < 2 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media add", Message: "usage: media add <name> <short-id>"}
		}
		return a.d.Store.AddMedia(ctx, catalog.Media{Name: rest[0], ShortID: rest[1], Enabled: true, Update: true})
	case "remove":
		if len(rest) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media remove", Message: "a media name is required"}
		}
		return a.d.Store.RemoveMedia(ctx, rest[0])
	case "enable", "disable":
		if len(rest) == 0 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media " + sub, Message: "a media name is required"}
		}
		return a.d.Store.SetMediaEnabled(ctx, rest[0], sub == "enable")
	case "set":
		if len(rest) < 2 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media set", Message: "usage: media set <name> <priority>"}
		}
		priority, err := strconv.Atoi(rest[1])
		if err != nil {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media set", Inner: err, Message: fmt.Sprintf("%q is not a priority integer", rest[1])}
		}
		return a.d.Store.SetMediaPriority(ctx, rest[0], priority)
	case "link":
		if len(rest) < 2 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "media link", Message: "usage: media link <media> <server>"}
		}
		return a.d.Store.LinkServer(ctx, rest[0], rest[1])
	case "seed-info":
		return cmdMediaSeedInfo(ctx, a, rest)
	case "import":
		return cmdMediaImport(ctx, a, rest)
	case "update":
		return daemon.RefreshMedia(ctx, a.d)
	case "autoconfig":
		return cmdNotImplemented("media autoconfig", "mirrorlist auto-discovery is out of scope")(ctx, a, rest)
	default:
		return &urpm.Error{Kind: urpm.ErrUser, Op: "media", Message: fmt.Sprintf("unknown media subverb %q", sub)}
	}
}

// cmdMediaSeedInfo reports a media's replication policy and seed sections
// (spec.md §3's on-demand/seed/full replication tiers), the data a
// mirror operator consults before deciding what to pre-fetch.
func cmdMediaSeedInfo(ctx context.Context, a *app, args []string) error {
	medias, err := a.d.Store.Media(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NAME\tREPLICATION\tSEED_SECTIONS")
	for _, m := range medias {
		if len(args) > 0 && m.Name != args[0] {
			continue
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", m.Name, m.Replication, strings.Join(m.SeedSections, ","))
	}
	return nil
}

// cmdMediaImport reads a legacy urpmi.cfg-style file and registers each
// stanza as a media (and its url as a linked server), the "media import"
// verb's path off a machine migrating from the original tooling.
func cmdMediaImport(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "media import", Message: "a urpmi.cfg path is required"}
	}
	legacy, err := config.LoadLegacy(args[0])
	if err != nil {
		return err
	}
	for _, m := range legacy.Media {
		ignore, update := false, false
		for _, flag := range m.Flags {
			switch flag {
			case "ignore":
				ignore = true
			case "update":
				update = true
			}
		}
		if err := a.d.Store.AddMedia(ctx, catalog.Media{Name: m.Name, ShortID: m.Name, Enabled: !ignore, Update: update}); err != nil {
			return err
		}
		if m.URL == "" {
			continue
		}
		if err := a.d.Store.AddServer(ctx, catalog.Server{Name: m.Name, BaseURL: m.URL, Enabled: true}); err != nil {
			return err
		}
		if err := a.d.Store.LinkServer(ctx, m.Name, m.Name); err != nil {
			return err
		}
	}
	return nil
}

// cmdServer dispatches "server <subverb>" (spec.md §3's mirror-server
// management).
func cmdServer(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "server", Message: "a server subverb is required"}
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return cmdServerList(ctx, a, rest)
	case "add":
		if len(rest) < 2 {
			return &urpm.Error{Kind: urpm.ErrUser, Op: "server add", Message: "usage: server add <name> <base-url>"}
		}
		return a.d.Store.AddServer(ctx, catalog.Server{Name: rest[0], BaseURL: rest[1], Enabled: true})
	case "remove":
		return cmdNotImplemented("server remove", "the schema has no server-deletion path independent of its media links")(ctx, a, rest)
	case "enable", "disable", "priority", "test", "ip-mode", "autoconfig":
		return cmdNotImplemented("server "+sub, "no per-server mutation beyond add/list is wired to the catalog schema")(ctx, a, rest)
	default:
		return &urpm.Error{Kind: urpm.ErrUser, Op: "server", Message: fmt.Sprintf("unknown server subverb %q", sub)}
	}
}

func cmdServerList(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return &urpm.Error{Kind: urpm.ErrUser, Op: "server list", Message: "a media name is required"}
	}
	servers, err := a.d.Store.ServersForMedia(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "NAME\tBASE_URL\tENABLED\tPRIORITY\tLAST_STATUS")
	for _, s := range servers {
		fmt.Fprintf(a.out, "%s\t%s\t%v\t%d\t%s\n", s.Name, s.BaseURL, s.Enabled, s.Priority, s.LastStatus)
	}
	return nil
}

// cmdPeer dispatches "peer <subverb>" (spec.md §4.4's LAN peer sharing).
func cmdPeer(ctx context.Context, a *app, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		peers, err := a.d.Store.Peers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "HOST\tPORT\tMACHINE_ID\tDISTRO\tARCH\tLAST_SEEN")
		for _, p := range peers {
			fmt.Fprintf(a.out, "%s\t%d\t%s\t%s\t%s\t%s\n", p.Host, p.Port, p.MachineID, p.DistroRelease, p.Arch, p.LastSeen.Format("2006-01-02T15:04:05"))
		}
		return nil
	case "downloads":
		stat := a.d.Pool.Stat()
		fmt.Fprintln(a.out, "IN_FLIGHT\tQUEUED\tCOMPLETED\tFAILED")
		fmt.Fprintf(a.out, "%d\t%d\t%d\t%d\n", stat.InFlight(), stat.Queued(), stat.Completed(), stat.Failed())
		return nil
	case "clean":
		n, err := a.d.Store.ExpirePeers(ctx, time.Now().Add(-a.d.Config.Peer.StaleAfter))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "removed %d stale peer(s)\n", n)
		return nil
	default:
		return &urpm.Error{Kind: urpm.ErrUser, Op: "peer", Message: fmt.Sprintf("unknown peer subverb %q", sub)}
	}
}

// cmdMirror dispatches "mirror <subverb>"; sync is the only one spec.md §1
// keeps in scope (and only as a documented stub: full mirror replication
// is a daemon-side Non-goal here, same as package building).
func cmdMirror(ctx context.Context, a *app, args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	return cmdNotImplemented("mirror "+sub, "mirror replication runs out-of-band of this tool")(ctx, a, args)
}

// cmdNotImplemented builds a verb that always fails with a documented
// ErrUser explaining why, instead of silently succeeding or panicking on
// an unwired verb spec.md names.
func cmdNotImplemented(verb, reason string) subcmd {
	return func(ctx context.Context, a *app, args []string) error {
		return &urpm.Error{Kind: urpm.ErrUser, Op: verb, Message: fmt.Sprintf("%s is not implemented: %s", verb, reason)}
	}
}
