package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/quarrybuild/quarry/pkg/bridge"
)

// hostCall is one recorded bridge call, rendered as "Method(arg, arg)".
type hostCall struct {
	method string
	args   []string
}

func (c hostCall) String() string {
	return c.method + "(" + strings.Join(c.args, ", ") + ")"
}

// targetRef is the fake host's target handle.
type targetRef struct {
	pkg  string
	name string
}

// fakeHost records every bridge call and answers inclusion lookups from
// preset maps.
type fakeHost struct {
	mu                sync.Mutex
	calls             []hostCall
	targets           map[string]bool
	specs             map[string]bridge.TargetSpec
	subincludeAnswers map[string]string
	includeAnswers    map[string]string
	globFiles         []string
	labels            []string
	logs              []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		targets:           make(map[string]bool),
		specs:             make(map[string]bridge.TargetSpec),
		subincludeAnswers: make(map[string]string),
		includeAnswers:    make(map[string]string),
	}
}

func (h *fakeHost) record(method string, args ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hostCall{method: method, args: args})
}

func (h *fakeHost) callsOf(method string) []hostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hostCall
	for _, c := range h.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHost) specOf(key string) bridge.TargetSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.specs[key]
}

func (h *fakeHost) callSequence() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		out[i] = c.String()
	}
	return out
}

func pkgString(pkg bridge.PackageHandle) string {
	if pkg == nil {
		return ""
	}
	return pkg.(string)
}

func (h *fakeHost) CreateTarget(pkg bridge.PackageHandle, spec bridge.TargetSpec) (bridge.TargetHandle, error) {
	h.record("CreateTarget", pkgString(pkg), spec.Name)
	key := pkgString(pkg) + ":" + spec.Name
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.targets[key] {
		return nil, nil
	}
	h.targets[key] = true
	h.specs[key] = spec
	return &targetRef{pkg: pkgString(pkg), name: spec.Name}, nil
}

func (h *fakeHost) attach(method string, target bridge.TargetHandle, args ...string) error {
	ref := target.(*targetRef)
	h.record(method, append([]string{ref.name}, args...)...)
	return nil
}

func (h *fakeHost) AddSource(t bridge.TargetHandle, source string) error {
	return h.attach("AddSource", t, source)
}
func (h *fakeHost) AddNamedSource(t bridge.TargetHandle, name, source string) error {
	return h.attach("AddNamedSource", t, name, source)
}
func (h *fakeHost) AddData(t bridge.TargetHandle, data string) error {
	return h.attach("AddData", t, data)
}
func (h *fakeHost) AddCommand(t bridge.TargetHandle, config, command string) error {
	return h.attach("AddCommand", t, config, command)
}
func (h *fakeHost) AddTestCommand(t bridge.TargetHandle, config, command string) error {
	return h.attach("AddTestCommand", t, config, command)
}
func (h *fakeHost) AddDependency(t bridge.TargetHandle, dep string) error {
	return h.attach("AddDependency", t, dep)
}
func (h *fakeHost) AddExportedDependency(t bridge.TargetHandle, dep string) error {
	return h.attach("AddExportedDependency", t, dep)
}
func (h *fakeHost) AddTool(t bridge.TargetHandle, tool string) error {
	return h.attach("AddTool", t, tool)
}
func (h *fakeHost) AddOutput(t bridge.TargetHandle, output string) error {
	return h.attach("AddOutput", t, output)
}
func (h *fakeHost) AddOptionalOutput(t bridge.TargetHandle, output string) error {
	return h.attach("AddOptionalOutput", t, output)
}
func (h *fakeHost) AddVisibility(t bridge.TargetHandle, vis string) error {
	return h.attach("AddVisibility", t, vis)
}
func (h *fakeHost) AddLabel(t bridge.TargetHandle, label string) error {
	return h.attach("AddLabel", t, label)
}
func (h *fakeHost) AddHash(t bridge.TargetHandle, hash string) error {
	return h.attach("AddHash", t, hash)
}
func (h *fakeHost) AddLicence(t bridge.TargetHandle, licence string) error {
	return h.attach("AddLicence", t, licence)
}
func (h *fakeHost) AddTestOutput(t bridge.TargetHandle, output string) error {
	return h.attach("AddTestOutput", t, output)
}
func (h *fakeHost) AddRequire(t bridge.TargetHandle, require string) error {
	return h.attach("AddRequire", t, require)
}
func (h *fakeHost) AddProvide(t bridge.TargetHandle, capability, dep string) error {
	return h.attach("AddProvide", t, capability, dep)
}
func (h *fakeHost) RegisterPreBuild(handle bridge.CallbackHandle, t bridge.TargetHandle) error {
	return h.attach("RegisterPreBuild", t, string(handle))
}
func (h *fakeHost) RegisterPostBuild(handle bridge.CallbackHandle, t bridge.TargetHandle) error {
	return h.attach("RegisterPostBuild", t, string(handle))
}

func (h *fakeHost) AddDependencyPost(pkg bridge.PackageHandle, target, dep string, exported bool) error {
	h.record("AddDependencyPost", pkgString(pkg), target, dep, fmt.Sprint(exported))
	return nil
}
func (h *fakeHost) AddOutputPost(pkg bridge.PackageHandle, target, output string) error {
	h.record("AddOutputPost", pkgString(pkg), target, output)
	return nil
}
func (h *fakeHost) AddLicencePost(pkg bridge.PackageHandle, target, licence string) error {
	h.record("AddLicencePost", pkgString(pkg), target, licence)
	return nil
}
func (h *fakeHost) SetCommand(pkg bridge.PackageHandle, target, config, command string) error {
	h.record("SetCommand", pkgString(pkg), target, config, command)
	return nil
}

func (h *fakeHost) GetLabels(pkg bridge.PackageHandle, target, prefix string) ([]string, error) {
	h.record("GetLabels", pkgString(pkg), target, prefix)
	var out []string
	for _, l := range h.labels {
		if strings.HasPrefix(l, prefix) {
			out = append(out, strings.TrimPrefix(l, prefix))
		}
	}
	return out, nil
}

func (h *fakeHost) Glob(pkg bridge.PackageHandle, includes, excludes []string, hidden bool) ([]string, error) {
	h.record("Glob", pkgString(pkg), strings.Join(includes, " "), strings.Join(excludes, " "), fmt.Sprint(hidden))
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.globFiles, nil
}

func (h *fakeHost) IncludeFilePath(pkg bridge.PackageHandle, label string) string {
	h.record("IncludeFilePath", pkgString(pkg), label)
	h.mu.Lock()
	defer h.mu.Unlock()
	if path, ok := h.includeAnswers[label]; ok {
		return path
	}
	return "__cannot resolve " + label
}

func (h *fakeHost) SubincludeFilePath(pkg bridge.PackageHandle, label string) string {
	h.record("SubincludeFilePath", pkgString(pkg), label)
	h.mu.Lock()
	defer h.mu.Unlock()
	if path, ok := h.subincludeAnswers[label]; ok {
		return path
	}
	return "__cannot resolve " + label
}

func (h *fakeHost) Log(level int, pkg bridge.PackageHandle, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, fmt.Sprintf("%d: %s", level, msg))
}

// writeFile writes a BUILD file into the test's temp dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func parseOne(t *testing.T, e *Evaluator, host *fakeHost, content string) bridge.Result {
	t.Helper()
	path := writeFile(t, t.TempDir(), "BUILD", content)
	return e.ParseFile(context.Background(), path, "pkg", "pkg")
}

func TestParseFileCreatesTarget(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
build_rule(
    name = 'lib',
    cmd = 'compile $SRCS',
    srcs = ['a.c', 'b.c'],
    deps = [':hdrs'],
    outs = ['lib.a'],
    visibility = ['PUBLIC'],
    labels = ['cc'],
)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("CreateTarget"); len(got) != 1 || got[0].args[1] != "lib" {
		t.Fatalf("CreateTarget calls = %v, want one for lib", got)
	}
	if got := host.callsOf("AddSource"); len(got) != 2 {
		t.Fatalf("AddSource calls = %v, want two", got)
	}
	if got := host.callsOf("AddVisibility"); len(got) != 1 || got[0].args[1] != "PUBLIC" {
		t.Fatalf("AddVisibility calls = %v, want PUBLIC", got)
	}
	if got := host.callsOf("AddDependency"); len(got) != 1 || got[0].args[1] != ":hdrs" {
		t.Fatalf("AddDependency calls = %v, want :hdrs", got)
	}
}

func TestTargetValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "reserved name",
			content: `build_rule(name = 'all', cmd = 'true')`,
			wantMsg: "reserved build target name",
		},
		{
			name:    "slash in name",
			content: `build_rule(name = 'a/b', cmd = 'true')`,
			wantMsg: "not allowed in target names",
		},
		{
			name:    "colon in name",
			content: `build_rule(name = 'a:b', cmd = 'true')`,
			wantMsg: "not allowed in target names",
		},
		{
			name:    "container on non-test",
			content: `build_rule(name = 'x', cmd = 'true', container = True)`,
			wantMsg: "only tests can be containerised",
		},
		{
			name:    "test command on non-test",
			content: `build_rule(name = 'x', cmd = 'true', test_cmd = 'run')`,
			wantMsg: "has a test command but is not a test",
		},
		{
			name:    "test without test command",
			content: `build_rule(name = 'x', cmd = 'true', test = True)`,
			wantMsg: "is a test but has no test command",
		},
		{
			name:    "srcs as bare string",
			content: `build_rule(name = 'x', cmd = 'true', srcs = 'a.c')`,
			wantMsg: "should be a list of strings, not a string",
		},
		{
			name:    "absolute source",
			content: `build_rule(name = 'x', cmd = 'true', srcs = ['/etc/passwd'])`,
			wantMsg: "absolute path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			e := New(host, Options{})
			res := parseOne(t, e, host, tt.content)
			if res.Status != bridge.StatusError {
				t.Fatalf("ParseFile() = %v, want error", res.Status)
			}
			if !strings.Contains(res.Err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not contain %q", res.Err, tt.wantMsg)
			}
			if got := host.callsOf("CreateTarget"); len(got) != 0 {
				t.Fatalf("CreateTarget called %d times on invalid declaration", len(got))
			}
		})
	}
}

func TestDuplicateTarget(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
build_rule(name = 'x', cmd = 'true')
build_rule(name = 'x', cmd = 'false')
`)
	if res.Status != bridge.StatusError {
		t.Fatalf("ParseFile() = %v, want error", res.Status)
	}
	if !IsDuplicateTarget(res.Err) {
		t.Fatalf("error %v is not classified as a duplicate target", res.Err)
	}
}

func TestConfigDefaultsApply(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	e.SetConfigValue("DEFAULT_VISIBILITY", "PUBLIC")
	res := parseOne(t, e, host, `build_rule(name = 'x', cmd = 'true')`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("AddVisibility"); len(got) != 1 || got[0].args[1] != "PUBLIC" {
		t.Fatalf("AddVisibility calls = %v, want default PUBLIC", got)
	}
}

func TestPackageOverrides(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
package(default_licences = ['MIT'])
build_rule(name = 'x', cmd = 'true')
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("AddLicence"); len(got) != 1 || got[0].args[1] != "MIT" {
		t.Fatalf("AddLicence calls = %v, want MIT", got)
	}
}

func TestPackageOverrideRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "unknown key",
			content: `package(bogus_setting = 'x')`,
			wantMsg: "is not a known config value",
		},
		{
			name: "override after target",
			content: `
build_rule(name = 'x', cmd = 'true')
package(default_licences = ['MIT'])
`,
			wantMsg: "frozen",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			e := New(host, Options{})
			res := parseOne(t, e, host, tt.content)
			if res.Status != bridge.StatusError {
				t.Fatalf("ParseFile() = %v, want error", res.Status)
			}
			if !strings.Contains(res.Err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not contain %q", res.Err, tt.wantMsg)
			}
		})
	}
}

func TestPackageIsolation(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	dir := t.TempDir()
	first := writeFile(t, dir, "BUILD.first", `
package(default_licences = ['MIT'])
build_rule(name = 'a', cmd = 'true')
`)
	second := writeFile(t, dir, "BUILD.second", `build_rule(name = 'b', cmd = 'true')`)

	if res := e.ParseFile(context.Background(), first, "first", "first"); res.Status != bridge.StatusOK {
		t.Fatalf("first ParseFile() = %v, err %v", res.Status, res.Err)
	}
	if res := e.ParseFile(context.Background(), second, "second", "second"); res.Status != bridge.StatusOK {
		t.Fatalf("second ParseFile() = %v, err %v", res.Status, res.Err)
	}
	// The licence override in the first package must not leak to the second.
	for _, c := range host.callsOf("AddLicence") {
		if c.args[0] == "b" {
			t.Fatalf("licence override leaked to second package: %v", c)
		}
	}
}

func TestBannedConstructs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "load statement",
			content: `load("defs.bzl", "x")`,
			wantMsg: "load() is not allowed",
		},
		{
			name:    "print call",
			content: `print("hello")`,
			wantMsg: "print is not allowed",
		},
		{
			name:    "stripped builtin",
			content: `x = getattr(__import__("os"), "system")`,
			wantMsg: "__import__",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			e := New(host, Options{})
			res := parseOne(t, e, host, tt.content)
			if res.Status != bridge.StatusError {
				t.Fatalf("ParseFile() = %v, want error", res.Status)
			}
			if !strings.Contains(res.Err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not contain %q", res.Err, tt.wantMsg)
			}
		})
	}
}

func TestSubincludeDeferral(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	dir := t.TempDir()
	build := writeFile(t, dir, "BUILD", `
subinclude('//build_defs:cc')
cc_library(name = 'lib', srcs = ['a.c'])
`)

	// The included target has not been built yet: the file defers and no
	// target reaches the host.
	host.subincludeAnswers["//build_defs:cc"] = bridge.DeferSentinel
	res := e.ParseFile(context.Background(), build, "pkg", "pkg")
	if res.Status != bridge.StatusDeferred {
		t.Fatalf("ParseFile() = %v, err %v, want deferred", res.Status, res.Err)
	}
	if got := host.callsOf("CreateTarget"); len(got) != 0 {
		t.Fatalf("deferred parse created targets: %v", got)
	}

	// Once the include is built the retry completes using its definitions.
	defs := writeFile(t, dir, "cc.defs", `
def cc_library(name, srcs):
    build_rule(name = name, cmd = 'cc $SRCS', srcs = srcs)
`)
	host.subincludeAnswers["//build_defs:cc"] = defs
	res = e.ParseFile(context.Background(), build, "pkg", "pkg")
	if res.Status != bridge.StatusOK {
		t.Fatalf("retried ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("CreateTarget"); len(got) != 1 || got[0].args[1] != "lib" {
		t.Fatalf("CreateTarget calls = %v, want one for lib", got)
	}
}

func TestSubincludeErrorPropagates(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `subinclude('//missing:defs')`)
	if res.Status != bridge.StatusError {
		t.Fatalf("ParseFile() = %v, want error", res.Status)
	}
	if !strings.Contains(res.Err.Error(), "cannot resolve //missing:defs") {
		t.Fatalf("error %q does not carry the host diagnostic", res.Err)
	}
}

func TestParseCodeDefinitions(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	err := e.ParseCode(context.Background(), `
def go_library(name, srcs, deps=None):
    build_rule(name = name, cmd = 'go build', srcs = srcs, deps = deps)
`, "<builtins>")
	if err != nil {
		t.Fatalf("ParseCode() error: %v", err)
	}
	res := parseOne(t, e, host, `go_library(name = 'lib', srcs = ['a.go'])`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("CreateTarget"); len(got) != 1 || got[0].args[1] != "lib" {
		t.Fatalf("CreateTarget calls = %v, want one for lib", got)
	}
}

func TestCacheReuseAcrossPackages(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	path := writeFile(t, t.TempDir(), "BUILD", `build_rule(name = 'x', cmd = 'true')`)

	if res := e.ParseFile(context.Background(), path, "one", "one"); res.Status != bridge.StatusOK {
		t.Fatalf("first ParseFile() = %v, err %v", res.Status, res.Err)
	}
	if res := e.ParseFile(context.Background(), path, "two", "two"); res.Status != bridge.StatusOK {
		t.Fatalf("second ParseFile() = %v, err %v", res.Status, res.Err)
	}
	if e.cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d, want 1", e.cache.Len())
	}
	if got := host.callsOf("CreateTarget"); len(got) != 2 {
		t.Fatalf("CreateTarget calls = %v, want one per package", got)
	}
}

func TestCallbacks(t *testing.T) {
	host := newFakeHost()
	host.labels = []string{"cc:flag1", "cc:flag2", "go:other"}
	e := New(host, Options{})
	res := parseOne(t, e, host, `
def adjust(name):
    flags = get_labels(name, 'cc:')
    set_command(name, 'opt', 'cc ' + ' '.join(flags))

def record(name, output):
    add_out(name, output[0])

build_rule(
    name = 'lib',
    cmd = 'cc $SRCS',
    pre_build = adjust,
    post_build = record,
)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}

	pre := host.callsOf("RegisterPreBuild")
	post := host.callsOf("RegisterPostBuild")
	if len(pre) != 1 || len(post) != 1 {
		t.Fatalf("callback registrations = %v / %v, want one each", pre, post)
	}
	if e.registry.Len() != 2 {
		t.Fatalf("registry.Len() = %d, want 2", e.registry.Len())
	}

	preHandle := bridge.CallbackHandle(pre[0].args[1])
	if err := e.RunPreBuildCallback(context.Background(), preHandle, "lib"); err != nil {
		t.Fatalf("RunPreBuildCallback() error: %v", err)
	}
	set := host.callsOf("SetCommand")
	if len(set) != 1 || set[0].args[3] != "cc flag1 flag2" {
		t.Fatalf("SetCommand calls = %v, want rewritten command", set)
	}

	postHandle := bridge.CallbackHandle(post[0].args[1])
	if err := e.RunPostBuildCallback(context.Background(), postHandle, "lib", []string{"out/lib.a"}); err != nil {
		t.Fatalf("RunPostBuildCallback() error: %v", err)
	}
	outs := host.callsOf("AddOutputPost")
	if len(outs) != 1 || outs[0].args[2] != "out/lib.a" {
		t.Fatalf("AddOutputPost calls = %v, want out/lib.a", outs)
	}

	e.ReleaseCallbacks("pkg:lib")
	if e.registry.Len() != 0 {
		t.Fatalf("registry.Len() = %d after release, want 0", e.registry.Len())
	}
	if err := e.RunPreBuildCallback(context.Background(), preHandle, "lib"); err == nil {
		t.Fatal("RunPreBuildCallback() after release did not fail")
	}
}

func TestSubincludeFromCallbackFails(t *testing.T) {
	host := newFakeHost()
	host.subincludeAnswers["//late:defs"] = bridge.DeferSentinel
	e := New(host, Options{})
	res := parseOne(t, e, host, `
def bad(name):
    subinclude('//late:defs')

build_rule(name = 'lib', cmd = 'true', pre_build = bad)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	handle := bridge.CallbackHandle(host.callsOf("RegisterPreBuild")[0].args[1])
	err := e.RunPreBuildCallback(context.Background(), handle, "lib")
	if err == nil || !strings.Contains(err.Error(), "cannot subinclude() from a pre-build callback") {
		t.Fatalf("RunPreBuildCallback() error = %v, want subinclude rejection", err)
	}
}

func TestDeferralIsRepeatable(t *testing.T) {
	host := newFakeHost()
	host.subincludeAnswers["//defs:x"] = bridge.DeferSentinel
	e := New(host, Options{})
	path := writeFile(t, t.TempDir(), "BUILD", `
subinclude('//defs:x')
build_rule(name = 'lib', cmd = 'true')
`)

	first := e.ParseFile(context.Background(), path, "pkg", "pkg")
	firstCalls := host.callSequence()
	second := e.ParseFile(context.Background(), path, "pkg", "pkg")
	secondCalls := host.callSequence()[len(firstCalls):]

	if first.Status != bridge.StatusDeferred || second.Status != bridge.StatusDeferred {
		t.Fatalf("statuses = %v, %v, want deferred twice", first.Status, second.Status)
	}
	if len(firstCalls) != len(secondCalls) {
		t.Fatalf("retry made a different call sequence:\n first: %v\nsecond: %v", firstCalls, secondCalls)
	}
	for i := range firstCalls {
		if firstCalls[i] != secondCalls[i] {
			t.Fatalf("call %d differs: %s vs %s", i, firstCalls[i], secondCalls[i])
		}
	}
}

func TestLogPrimitive(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `log.warning('watch out: %s', 'trouble')`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	want := fmt.Sprintf("%d: watch out: trouble", bridge.LevelWarning)
	found := false
	for _, l := range host.logs {
		if l == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("host logs = %v, want %q", host.logs, want)
	}
}

func TestPathHelpers(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
p = join_path('a', 'b', 'c.txt')
d = dirname(p)
b = basename(p)
stem, ext = splitext(b)
build_rule(name = 'x', cmd = 'true', labels = [p, d, b, stem, ext])
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	var got []string
	for _, c := range host.callsOf("AddLabel") {
		got = append(got, c.args[1])
	}
	want := []string{"a/b/c.txt", "a/b", "c.txt", "c", ".txt"}
	if len(got) != len(want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTopLevelControlFlow(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
langs = set(['go'])
if 'go' in langs:
    langs = set(['go', 'cc'])

labels = []
for lang in sorted(langs):
    labels += [lang]

build_rule(name = 'x', cmd = 'true', labels = labels)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	var got []string
	for _, c := range host.callsOf("AddLabel") {
		got = append(got, c.args[1])
	}
	want := []string{"cc", "go"}
	if len(got) != len(want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGlob(t *testing.T) {
	host := newFakeHost()
	host.globFiles = []string{"a.c", "sub/b.c"}
	e := New(host, Options{})
	res := parseOne(t, e, host, `
build_rule(
    name = 'lib',
    cmd = 'cc $SRCS',
    srcs = glob(['**/*.c'], excludes = ['bad.c']),
)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	globs := host.callsOf("Glob")
	if len(globs) != 1 || globs[0].args[1] != "**/*.c" || globs[0].args[2] != "bad.c" {
		t.Fatalf("Glob calls = %v, want one with the patterns", globs)
	}
	var got []string
	for _, c := range host.callsOf("AddSource") {
		got = append(got, c.args[1])
	}
	if len(got) != 2 || got[0] != "a.c" || got[1] != "sub/b.c" {
		t.Fatalf("AddSource calls = %v, want the globbed files", got)
	}
}

func TestGlobRejectsBareString(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `build_rule(name = 'x', cmd = 'true', srcs = glob('*.c'))`)
	if res.Status != bridge.StatusError {
		t.Fatalf("ParseFile() = %v, want error", res.Status)
	}
	if !strings.Contains(res.Err.Error(), "first argument to glob() should be a list") {
		t.Fatalf("error %q does not reject the bare string", res.Err)
	}
}

func TestSystemSourcesAndData(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
build_rule(
    name = 'tool',
    cmd = 'cc $SRCS',
    srcs = ['main.c', '//other:gen'],
    system_srcs = ['/usr/include/zlib.h'],
    data = ['fixtures/config.json'],
)
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	var srcs []string
	for _, c := range host.callsOf("AddSource") {
		srcs = append(srcs, c.args[1])
	}
	want := []string{"main.c", "//other:gen", "/usr/include/zlib.h"}
	if len(srcs) != len(want) {
		t.Fatalf("AddSource calls = %v, want %v", srcs, want)
	}
	for i := range want {
		if srcs[i] != want[i] {
			t.Fatalf("source %d = %q, want %q", i, srcs[i], want[i])
		}
	}
	if got := host.callsOf("AddData"); len(got) != 1 || got[0].args[1] != "fixtures/config.json" {
		t.Fatalf("AddData calls = %v, want fixtures/config.json", got)
	}
}

func TestSystemSourcesMustBeAbsolute(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `build_rule(name = 'x', cmd = 'true', system_srcs = ['local.c'])`)
	if res.Status != bridge.StatusError {
		t.Fatalf("ParseFile() = %v, want error", res.Status)
	}
	if !strings.Contains(res.Err.Error(), "is not an absolute path") {
		t.Fatalf("error %q does not reject the relative system source", res.Err)
	}
}

func TestDirectivesRunOncePerParse(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	dir := t.TempDir()
	defs := writeFile(t, dir, "cc.defs", `
def cc_library(name, srcs):
    build_rule(name = name, cmd = 'cc $SRCS', srcs = srcs)
`)
	host.subincludeAnswers["//build_defs:cc"] = defs
	build := writeFile(t, dir, "BUILD", `
subinclude('//build_defs:cc')
cc_library(name = 'lib', srcs = ['a.c'])
`)

	if res := e.ParseFile(context.Background(), build, "one", "one"); res.Status != bridge.StatusOK {
		t.Fatalf("first ParseFile() = %v, err %v", res.Status, res.Err)
	}
	// The label resolves once in the directive pre-scan and once when the
	// body statement executes. Anything more means the pre-scan ran twice.
	first := host.callsOf("SubincludeFilePath")
	if len(first) != 2 {
		t.Fatalf("SubincludeFilePath called %d times on a fresh parse, want 2: %v", len(first), first)
	}

	// A cache hit replays the directives instead of recompiling; the count
	// per parse stays the same.
	if res := e.ParseFile(context.Background(), build, "two", "two"); res.Status != bridge.StatusOK {
		t.Fatalf("second ParseFile() = %v, err %v", res.Status, res.Err)
	}
	second := host.callsOf("SubincludeFilePath")[len(first):]
	if len(second) != 2 {
		t.Fatalf("SubincludeFilePath called %d times on a cached parse, want 2: %v", len(second), second)
	}
}

func TestTestTargetsAreTestOnly(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `build_rule(name = 't', cmd = 'cc', test = True, test_cmd = 'run')`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if spec := host.specOf("pkg:t"); !spec.TestOnly {
		t.Fatalf("test target spec = %+v, want TestOnly", spec)
	}
}

func TestCommandWhitespaceStripped(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `
build_rule(name = 'x', cmd = '  cc $SRCS\n')
build_rule(name = 'y', cmd = {'opt': ' fast ', 'dbg': ' slow '})
`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if spec := host.specOf("pkg:x"); spec.Command != "cc $SRCS" {
		t.Fatalf("Command = %q, want surrounding whitespace stripped", spec.Command)
	}
	for _, c := range host.callsOf("AddCommand") {
		if got := c.args[2]; got != strings.TrimSpace(got) {
			t.Fatalf("per-config command %q not stripped", got)
		}
	}
}

func TestFilegroup(t *testing.T) {
	host := newFakeHost()
	e := New(host, Options{})
	res := parseOne(t, e, host, `filegroup(name = 'files', srcs = ['a.txt', 'b.txt'], visibility = ['PUBLIC'])`)
	if res.Status != bridge.StatusOK {
		t.Fatalf("ParseFile() = %v, err %v, want ok", res.Status, res.Err)
	}
	if got := host.callsOf("CreateTarget"); len(got) != 1 || got[0].args[1] != "files" {
		t.Fatalf("CreateTarget calls = %v, want one for files", got)
	}
	if got := host.callsOf("AddSource"); len(got) != 2 {
		t.Fatalf("AddSource calls = %v, want two", got)
	}
}
