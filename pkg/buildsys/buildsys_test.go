package buildsys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ngld/distbuild/pkg/buildlog"
)

const sampleTasks = `
env = option("env", "dev", help = "Build environment")
version = read_yaml("package.yml", "version", "0.0.0")
name = read_yaml("package.yml", "names.1")

def configure():
    setenv("GREETING", "hello")

    prepare = task(
        short = "prepare",
        desc = "Creates the work directory",
        cmds = [("mkdir", "-p", "work")],
    )

    task(
        short = "build",
        desc = "Builds " + name + " " + version + " for " + env,
        deps = ["prepare"],
        cmds = [
            "echo $GREETING > work/greeting.txt",
            ["FOO=bar", "echo", "it's done"],
            transform("src", "dist"),
        ],
    )

    task(
        short = "skipped",
        skip_if_exists = ["package.yml"],
        cmds = ["echo never > work/skipped.txt"],
    )

    task(short = "loop-a", deps = ["loop-b"])
    task(short = "loop-b", deps = ["loop-a"])
`

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return buildlog.WithLogger(context.Background(), &logger)
}

func writeProject(t *testing.T, script string) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		TaskFile:      script,
		"package.yml": "version: 1.2.3\nnames:\n  - first\n  - second\n",
		"src/app.js":  "function hello() {\n  return \"_VER_\";\n}\n",
	}

	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestLoadScript(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, sampleTasks)

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, map[string]string{"env": "prod"})
	if err != nil {
		t.Fatal(err)
	}

	if script.Options["env"].Default() != "dev" || script.Options["env"].Help != "Build environment" {
		t.Errorf("unexpected option %+v", script.Options["env"])
	}

	build, ok := script.Tasks["build"]
	if !ok {
		t.Fatal("build task missing")
	}

	if build.Desc != "Builds second 1.2.3 for prod" {
		t.Errorf("unexpected description %q", build.Desc)
	}

	if build.Env["GREETING"] != "hello" {
		t.Errorf("setenv() was not applied: %v", build.Env)
	}

	if len(build.Cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(build.Cmds))
	}

	if cmd := build.Cmds[1].Describe(); !strings.HasPrefix(cmd, "FOO=bar echo") || !strings.Contains(cmd, `'it'"'"'s done'`) {
		t.Errorf("arguments were not quoted: %s", cmd)
	}

	transform, ok := build.Cmds[2].(*TaskCmdTransform)
	if !ok {
		t.Fatalf("expected a transform step, got %T", build.Cmds[2])
	}
	if transform.Env != "prod" || transform.Src != filepath.Join(root, "src") {
		t.Errorf("unexpected transform %+v", transform)
	}
}

func TestLoadScriptErrors(t *testing.T) {
	ctx := testContext(t)
	scripts := map[string]string{
		"missing configure": `x = 1`,
		"error builtin":     "def configure():\n    error(\"nope\")\n",
		"reserved name":     "def configure():\n    task(short = \"configure\")\n",
		"invalid env":       "def configure():\n    task(short = \"a\", cmds = [transform(\"src\", \"dist\", env = \"staging\")])\n",
		"late option":       "def configure():\n    option(\"x\")\n",
		"duplicate task":    "def configure():\n    task(short = \"a\")\n    task(short = \"a\")\n",
	}

	for name, content := range scripts {
		root := writeProject(t, content)
		_, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
		if err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestRunTask(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, sampleTasks)

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, map[string]string{"env": "prod"})
	if err != nil {
		t.Fatal(err)
	}

	stdout := bytes.Buffer{}
	err = RunTask(ctx, script, "build", RunOptions{Version: "_=1.2.3", Stdout: &stdout})
	if err != nil {
		t.Fatal(err)
	}

	greeting, err := os.ReadFile(filepath.Join(root, "work", "greeting.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(greeting)) != "hello" {
		t.Errorf("unexpected greeting %q", greeting)
	}

	if strings.TrimSpace(stdout.String()) != "it's done" {
		t.Errorf("unexpected output %q", stdout.String())
	}

	app, err := os.ReadFile(filepath.Join(root, "dist", "app.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(app), "_=1.2.3") || strings.Contains(string(app), "\n  ") {
		t.Errorf("transform did not minify and version the script: %s", app)
	}
}

func TestRunTaskDryRun(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, sampleTasks)

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := RunTask(ctx, script, "build", RunOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"work", "dist"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			t.Errorf("dry run created %s", name)
		}
	}
}

func TestRunTaskSkipAndRecursion(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, sampleTasks)

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := RunTask(ctx, script, "skipped", RunOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "work", "skipped.txt")); err == nil {
		t.Error("task should have been skipped")
	}

	err = RunTask(ctx, script, "loop-a", RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "recursively") {
		t.Errorf("expected a recursion error, got %v", err)
	}

	if err := RunTask(ctx, script, "missing", RunOptions{}); err == nil {
		t.Error("expected an error for an unknown task")
	}
}

func TestRunTaskFailure(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, "def configure():\n    task(short = \"fail\", cmds = [\"exit 3\", \"echo unreachable > out.txt\"])\n")

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := RunTask(ctx, script, "fail", RunOptions{}); err == nil {
		t.Error("expected the task to fail")
	}
	if _, err := os.Stat(filepath.Join(root, "out.txt")); err == nil {
		t.Error("commands after the failure must not run")
	}
}

const projectBuiltinTasks = `
version = package_field("version", "0.0.0")
build = package_field("scripts.build", "none")
prepend_path()

def configure():
    checks = [exists("src", kind = "dir"), exists("src", kind = "file"), exists("//package.json"), exists("nothing")]
    task(short = "show", desc = " ".join([version, build] + [str(c) for c in checks]))
`

func TestProjectBuiltins(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, projectBuiltinTasks)
	err := os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"version": "2.1.0", "scripts": {"build": "webpack"}}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	show := script.Tasks["show"]
	if show.Desc != "2.1.0 webpack True False True False" {
		t.Errorf("unexpected description %q", show.Desc)
	}

	binDir := filepath.Join(root, "node_modules", ".bin") + string(os.PathListSeparator)
	if !strings.HasPrefix(show.Env["PATH"], binDir) {
		t.Errorf("node_modules/.bin is not first in PATH: %s", show.Env["PATH"])
	}
}

func TestPackageFieldWithoutPackageFile(t *testing.T) {
	ctx := testContext(t)
	root := writeProject(t, projectBuiltinTasks)

	script, err := LoadScript(ctx, filepath.Join(root, TaskFile), root, nil)
	if err != nil {
		t.Fatal(err)
	}

	if desc := script.Tasks["show"].Desc; desc != "0.0.0 none True False False False" {
		t.Errorf("unexpected description %q", desc)
	}
}
