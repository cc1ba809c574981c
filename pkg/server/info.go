package server

import (
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/odvcencio/gitaccess/pkg/content"
)

const usage = `Clone the current state of the wiki with:

  git clone <url>

or a past state by revision id, optionally followed by an audit log id:

  git clone <url>/<rev>
  git clone <url>/<rev>/<log>`

var infoPage = template.Must(template.New("info").Parse(`This wiki can be cloned with Git. The repository is read-only.

Latest state: revision {{.Latest.RevID}}, log entry {{.Latest.LogID}}

Clone the current state of the wiki with:

  git clone {{.URL}} wiki

or a past state by revision id, optionally followed by an audit log id:

  git clone {{.URL}}/<rev> wiki
  git clone {{.URL}}/<rev>/<log> wiki
{{- if .Recent}}

Recently built snapshots:
{{range .Recent}}
  {{printf "%-12s" .Marker}} {{.Commit}}  built {{.Built}}
{{- end}}
{{- end}}
`))

type infoSnapshot struct {
	Marker string
	Commit string
	Built  string
}

type infoData struct {
	URL    string
	Latest content.Marker
	Recent []infoSnapshot
}

// maxRecent bounds the snapshot list on the info page.
const maxRecent = 10

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	latest, err := s.snaps.Assembler().Source().LatestMarker(r.Context())
	if err != nil {
		s.log.Error("latest marker lookup failed", "error", err)
		textError(w, http.StatusInternalServerError, "wiki database unavailable")
		return
	}
	data := infoData{URL: s.cloneURL(r), Latest: latest}
	entries := s.snaps.Index().Entries()
	for i := len(entries) - 1; i >= 0 && len(data.Recent) < maxRecent; i-- {
		e := entries[i]
		data.Recent = append(data.Recent, infoSnapshot{
			Marker: e.Marker().String(),
			Commit: string(e.Commit),
			Built:  humanize.Time(time.Unix(e.BuiltAt, 0)),
		})
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	noCache(w)
	if err := infoPage.Execute(w, data); err != nil {
		s.log.Warn("rendering info page failed", "error", err)
	}
}

func (s *Service) cloneURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + strings.TrimSuffix(s.opts.MountPath, "/")
}
