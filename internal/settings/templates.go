package settings

import (
	"path"
	"strconv"
	"strings"
	"text/template"
)

const (
	markerPrefixBegin = "# >>> entrypoint: "
	markerSuffixBegin = " >>>"
	markerPrefixEnd   = "# <<< entrypoint: "
	markerSuffixEnd   = " <<<"
)

const csrfBlockTemplate = `CSRF_TRUSTED_ORIGINS = [
{{- range .Origins}}
    {{py .}},
{{- end}}
]
`

const postgresBlockTemplate = `DATABASES = {
    "default": {
        "ENGINE": "django.db.backends.postgresql",
        "NAME": os.environ.get("DJANGO_DB_NAME", {{py .DB.Name}}),
        "USER": os.environ.get("DJANGO_DB_USER", {{py .DB.User}}),
        "PASSWORD": os.environ.get("DJANGO_DB_PASSWORD", {{py .DB.Password}}),
        "HOST": os.environ.get("DJANGO_DB_HOST") or {{py .DB.Host}},
        "PORT": os.environ.get("DJANGO_DB_PORT") or {{py (port .DB.Port)}},
    }
}
`

const sqliteBlockTemplate = `DATABASES = {
    "default": {
        "ENGINE": "django.db.backends.sqlite3",
        "NAME": os.environ.get("DJANGO_DB_NAME") or {{pathExpr .DB.Name}},
    }
}
`

var blockTemplates = template.Must(template.New("blocks").Funcs(template.FuncMap{
	"py":       pyString,
	"pathExpr": pyPathExpr,
	"port":     strconv.Itoa,
}).Parse(`{{define "csrf"}}` + csrfBlockTemplate + `{{end}}` +
	`{{define "postgresql"}}` + postgresBlockTemplate + `{{end}}` +
	`{{define "sqlite3"}}` + sqliteBlockTemplate + `{{end}}`))

type blockData struct {
	Origins []string
	DB      Database
}

// block is a marker-guarded region of the settings module.
type block struct {
	name string
	body []string
}

func (b block) begin() string { return markerPrefixBegin + b.name + markerSuffixBegin }
func (b block) end() string   { return markerPrefixEnd + b.name + markerSuffixEnd }

func renderBlocks(v Values) ([]block, error) {
	data := blockData{Origins: v.TrustedOrigins(), DB: v.Database}

	csrf, err := renderTemplate("csrf", data)
	if err != nil {
		return nil, err
	}

	engine := v.Database.Engine
	if engine == "" {
		engine = EnginePostgres
	}
	db, err := renderTemplate(engine, data)
	if err != nil {
		return nil, err
	}

	return []block{
		{name: "CSRF_TRUSTED_ORIGINS", body: csrf},
		{name: "DATABASES", body: db},
	}, nil
}

func renderTemplate(name string, data blockData) ([]string, error) {
	tmpl := blockTemplates.Lookup(name)
	if tmpl == nil {
		return nil, &UnsupportedEngineError{Engine: name}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return nil, err
	}
	return splitLines(sb.String()), nil
}

// pyString renders s as a Python 3 string literal. Go's double-quoted
// escapes are a subset of Python's.
func pyString(s string) string {
	return strconv.Quote(s)
}

func pyTuple(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = pyString(item)
	}
	return strings.Join(quoted, ", ")
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// pyPathExpr anchors relative paths at BASE_DIR.
func pyPathExpr(p string) string {
	if path.IsAbs(p) {
		return pyString(p)
	}
	return "os.path.join(BASE_DIR, " + pyString(p) + ")"
}
