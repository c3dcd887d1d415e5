package plugins

import (
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanDoc = `
clean:
  components: [components]
  dist: [dist, "build/*.tmp"]
  escape: ["../outside"]
  dry:
    src: [dist]
    options: {noWrite: true}
bower_clean:
  options:
    dir: components
`

func TestClean(t *testing.T) {
	env, _ := testEnv(t,
		"components/jquery/jquery.js",
		"dist/css/site.css",
		"build/a.tmp",
		"build/keep.txt",
		"less/site.less",
	)

	require.NoError(t, execute(env, "clean", step(t, cleanDoc, "clean", "dist")))
	assert.False(t, exists(env.FS, "dist"))
	assert.False(t, exists(env.FS, "build/a.tmp"))
	assert.True(t, exists(env.FS, "build/keep.txt"))
	assert.True(t, exists(env.FS, "components/jquery/jquery.js"))

	require.NoError(t, execute(env, "clean", step(t, cleanDoc, "clean", "components")))
	assert.False(t, exists(env.FS, "components"))
	assert.True(t, exists(env.FS, "less/site.less"))

	// Already gone: nothing to do.
	require.NoError(t, execute(env, "clean", step(t, cleanDoc, "clean", "dist")))
}

func TestClean_DryRunAndGuard(t *testing.T) {
	env, _ := testEnv(t, "dist/app.js")

	require.NoError(t, execute(env, "clean", step(t, cleanDoc, "clean", "dry")))
	assert.True(t, exists(env.FS, "dist/app.js"))

	err := execute(env, "clean", step(t, cleanDoc, "clean", "escape"))
	assert.ErrorContains(t, err, "outside the project")
}

func TestBowerClean(t *testing.T) {
	env, _ := testEnv(t,
		"components/jquery/jquery.js",
		"components/jquery/README.md",
		"components/jquery/test/unit.js",
		"components/requirejs/docs/api.html",
		"components/requirejs/require.js",
	)

	require.NoError(t, execute(env, "bower_clean", step(t, cleanDoc, "bower_clean", "")))
	assert.True(t, exists(env.FS, "components/jquery/jquery.js"))
	assert.True(t, exists(env.FS, "components/requirejs/require.js"))
	assert.False(t, exists(env.FS, "components/jquery/README.md"))
	assert.False(t, exists(env.FS, "components/jquery/test"))
	assert.False(t, exists(env.FS, "components/requirejs/docs"))

	missing, _ := testEnv(t)
	assert.NoError(t, execute(missing, "bower_clean", step(t, cleanDoc, "bower_clean", "")))
}

const templateDoc = `
template:
  dev:
    cwd: tmpl
    partials: ["partials/*.tmpl"]
    data: data/site.json
    files:
      - expand: true
        cwd: tmpl
        src: ["*.tmpl"]
        dest: dist/
        ext: .html
  handlebars:
    engine: handlebars
    files: [a.hbs]
`

func TestTemplate(t *testing.T) {
	env, _ := testEnv(t)
	write := func(p, s string) { require.NoError(t, util.WriteFile(env.FS, p, []byte(s), 0o644)) }
	write("tmpl/partials/header.tmpl", `<h1>{{.title}}</h1>`)
	write("tmpl/index.tmpl", `{{template "header" .}}{{range .pages}}<a>{{.}}</a>{{end}}`)
	write("tmpl/about.tmpl", `{{template "header" .}}about`)
	write("data/site.json", `{"title": "Demo", "pages": ["one", "two"]}`)

	require.NoError(t, execute(env, "template", step(t, templateDoc, "template", "dev")))

	index, err := util.ReadFile(env.FS, "dist/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Demo</h1><a>one</a><a>two</a>", string(index))

	about, err := util.ReadFile(env.FS, "dist/about.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Demo</h1>about", string(about))
	assert.False(t, exists(env.FS, "dist/header.html"), "partials are not rendered on their own")
}

func TestTemplate_Errors(t *testing.T) {
	env, _ := testEnv(t, "a.hbs")
	err := execute(env, "template", step(t, templateDoc, "template", "handlebars"))
	assert.ErrorContains(t, err, `unsupported template engine "handlebars"`)

	err = execute(env, "template", step(t, templateDoc, "template", "dev"))
	assert.Error(t, err, "missing data file")
}
