package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/storage"
)

var now = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return buildlog.WithLogger(context.Background(), &logger)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// newWorkspace creates a projects directory with a plain project (site), a delegated project (app),
// a stale project (old) and an ignored one (skipme). The returned oracle reports the listed paths
// (relative to the projects directory) as changed.
func newWorkspace(t *testing.T) (*config.Config, *[]string) {
	t.Helper()
	root := t.TempDir()
	projects := filepath.Join(root, "projects")

	writeFiles(t, projects, map[string]string{
		".buildignore":           "# never built\nskipme\n",
		"site/index.html":        "<p>_VER_</p>",
		"site/js/app.js":         "var version = \"_VER_\";",
		"site/js/vendor/lib.js":  "var lib;",
		"site/css/main.css":      "a { color: red; }",
		"site/node_modules/x.js": "var x;",
		"app/tasks.star":         "def configure():\n    task(short = \"build\", cmds = [transform(\"src\", \"dist\")])\n",
		"app/src/main.js":        "console.log(\"_VER_\");",
		"old/index.html":         "old",
		"skipme/index.html":      "skipped",
	})

	cfg, err := config.Load(filepath.Join(root, "missing.toml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Projects.Dir = projects
	cfg.Projects.IgnoreFile = filepath.Join(projects, ".buildignore")
	cfg.Dist = filepath.Join(root, "dist")
	cfg.Version = "1.0.0"
	cfg.History = filepath.Join(root, "history.db")

	return cfg, &[]string{}
}

func newOrchestrator(cfg *config.Config, queries *[]string) *Orchestrator {
	base := selector.DirPath(cfg.Projects.Dir)
	changed := map[string]bool{"site/": true, "site/js/": true, "app/": true, "skipme/": true}

	return &Orchestrator{
		Config: cfg,
		Oracle: selector.OracleFunc(func(ctx context.Context, path string, since time.Time) (bool, error) {
			rel := strings.TrimPrefix(selector.DirPath(path), base)
			*queries = append(*queries, rel)
			return changed[rel], nil
		}),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
		Now:    func() time.Time { return now },
	}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	result := make([]string, 0)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			result = append(result, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(result)
	return result
}

func TestGraph(t *testing.T) {
	ctx := testContext(t)
	order := make([]string, 0)
	step := func(name string, deps ...string) *Step {
		return &Step{Name: name, Deps: deps, Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}

	g := NewGraph()
	g.Add(step("clean"))
	g.Add(step("state", "clean"))
	g.Add(step("build", "clean"))

	if err := g.Run(ctx, "state", "build"); err != nil {
		t.Fatal(err)
	}

	if strings.Join(order, ",") != "clean,state,build" {
		t.Errorf("unexpected order %v", order)
	}

	g.Add(step("a", "b"))
	g.Add(step("b", "a"))
	if err := g.Run(ctx, "a"); err == nil || !strings.Contains(err.Error(), "recursively") {
		t.Errorf("expected a recursion error, got %v", err)
	}

	if err := g.Run(ctx, "missing"); err == nil {
		t.Error("expected an error for an unknown step")
	}

	if len(g.Steps()) != 5 || g.Steps()[0].Name != "a" {
		t.Errorf("unexpected step list %v", g.Steps())
	}
}

func TestGraphStopsOnError(t *testing.T) {
	g := NewGraph()
	ran := false
	g.Add(&Step{Name: "clean", Run: func(context.Context) error { return eris.New("boom") }})
	g.Add(&Step{Name: "build", Deps: []string{"clean"}, Run: func(context.Context) error {
		ran = true
		return nil
	}})

	if err := g.Run(testContext(t), "build"); err == nil {
		t.Error("expected the dependency error")
	}
	if ran {
		t.Error("build must not run after a failed dependency")
	}
}

func TestClean(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)
	writeFiles(t, cfg.Dist, map[string]string{"site/index.html": "x"})
	writeFiles(t, cfg.Projects.Dir, map[string]string{"app/dist/main.js": "x"})

	o := newOrchestrator(cfg, queries)
	o.DryRun = true
	if err := o.Clean(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Dist); err != nil {
		t.Error("dry run removed the dist directory")
	}

	o.DryRun = false
	if err := o.Clean(ctx); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{cfg.Dist, filepath.Join(cfg.Projects.Dir, "app", "dist")} {
		if _, err := os.Stat(path); err == nil {
			t.Errorf("%s was not removed", path)
		}
	}

	if _, err := os.Stat(filepath.Join(cfg.Projects.Dir, "app", "src", "main.js")); err != nil {
		t.Error("clean removed sources")
	}
}

func TestPlan(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)

	plan, err := newOrchestrator(cfg, queries).Plan(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if !plan.Since.Equal(now.Add(-30 * 24 * time.Hour)) {
		t.Errorf("unexpected threshold %s", plan.Since)
	}

	if len(plan.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(plan.Projects))
	}

	app, site := plan.Projects[0], plan.Projects[1]
	if app.Name != "app" || app.Kind != selector.Delegated || len(app.Actions) != 2 ||
		app.Actions[0] != ActionTask || app.Actions[1] != ActionCopyDist {
		t.Errorf("unexpected app plan %+v", app)
	}

	base := selector.DirPath(cfg.Projects.Dir)
	expected := []selector.Selector{
		{Kind: selector.DirectChildrenOf, Path: base + "site/"},
		{Kind: selector.DirectChildrenOf, Path: base + "site/js/"},
	}
	if site.Name != "site" || site.Kind != selector.PlainCopy || len(site.Selectors) != len(expected) {
		t.Fatalf("unexpected site plan %+v", site)
	}
	for i := range expected {
		if site.Selectors[i] != expected[i] {
			t.Errorf("selector %d: got %s, want %s", i, site.Selectors[i], expected[i])
		}
	}

	for _, query := range *queries {
		if strings.HasPrefix(query, "skipme") || strings.Contains(query, "node_modules") {
			t.Errorf("%s should never have been queried", query)
		}
	}
}

func TestState(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)
	o := newOrchestrator(cfg, queries)

	text := bytes.Buffer{}
	if err := o.State(ctx, &text); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "(delegated)") || !strings.Contains(text.String(), "site/js/*") {
		t.Errorf("unexpected report:\n%s", text.String())
	}

	o.StateFormat = "yaml"
	yamlOut := bytes.Buffer{}
	if err := o.State(ctx, &yamlOut); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(yamlOut.String(), "kind: plain") || !strings.Contains(yamlOut.String(), "- transform") {
		t.Errorf("unexpected yaml report:\n%s", yamlOut.String())
	}

	o.StateFormat = "xml"
	if err := o.State(ctx, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for an unknown format")
	}

	if _, err := os.Stat(cfg.Dist); err == nil {
		t.Error("state must not create output")
	}
}

func TestBuildRequiresEnv(t *testing.T) {
	cfg, queries := newWorkspace(t)
	cfg.Env = "staging"

	_, err := newOrchestrator(cfg, queries).Build(testContext(t))
	var envErr *config.InvalidEnvError
	if !eris.As(err, &envErr) {
		t.Fatalf("expected an InvalidEnvError, got %v", err)
	}

	if len(*queries) != 0 {
		t.Errorf("the oracle was queried before the environment was validated: %v", *queries)
	}
}

func TestBuild(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)
	cfg.Env = "dev"
	cfg.Archive = true

	ledger, err := storage.Open(cfg.History)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	o := newOrchestrator(cfg, queries)
	o.Ledger = ledger
	if err := o.Graph().Run(ctx, "build"); err != nil {
		t.Fatal(err)
	}

	site := listFiles(t, filepath.Join(cfg.Dist, "site"))
	if strings.Join(site, ",") != "index.html,js/app.js" {
		t.Errorf("unexpected site output %v", site)
	}

	index, err := os.ReadFile(filepath.Join(cfg.Dist, "site", "index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(index) != "<p>_=1.0.0</p>" {
		t.Errorf("unexpected index.html %q", index)
	}

	app := listFiles(t, filepath.Join(cfg.Dist, "app"))
	if strings.Join(app, ",") != "main.js" {
		t.Errorf("unexpected app output %v", app)
	}

	for _, name := range []string{"site.tar.xz", "app.tar.xz"} {
		if _, err := os.Stat(filepath.Join(cfg.Dist, name)); err != nil {
			t.Errorf("%s is missing: %v", name, err)
		}
	}

	records, err := ledger.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Env != "dev" || len(records[0].Projects) != 2 {
		t.Fatalf("unexpected history %+v", records)
	}
	if records[0].Projects[1].Name != "site" || len(records[0].Projects[1].Selectors) != 2 {
		t.Errorf("unexpected project record %+v", records[0].Projects[1])
	}
}

func TestBuildInstallsDependencies(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)
	cfg.Env = "prod"
	cfg.NPM = "echo"
	writeFiles(t, cfg.Projects.Dir, map[string]string{
		"app/package.json": "{}",
		"app/dist/out.js":  "var out;",
	})
	if err := os.Remove(filepath.Join(cfg.Projects.Dir, "app", "tasks.star")); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(cfg, queries)
	record, err := o.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(record.Projects) != 2 || record.Projects[0].Kind != selector.Delegated {
		t.Errorf("unexpected record %+v", record)
	}

	if _, err := os.Stat(filepath.Join(cfg.Dist, "app", "out.js")); err != nil {
		t.Error("the dist directory of app was not copied")
	}
}

func TestBuildDryRun(t *testing.T) {
	ctx := testContext(t)
	cfg, queries := newWorkspace(t)
	cfg.Env = "test"

	o := newOrchestrator(cfg, queries)
	o.DryRun = true
	if _, err := o.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(cfg.Dist); err == nil {
		t.Error("dry run created output")
	}
	if _, err := os.Stat(filepath.Join(cfg.Projects.Dir, "app", "dist")); err == nil {
		t.Error("dry run executed the build task")
	}
}
