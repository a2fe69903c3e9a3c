package job

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/log"
	"github.com/slok/satdl/internal/netwatch"
)

// captureDiagnostics stores a full page screenshot of the session. When there
// is no session or the screenshot can't be taken a text report is stored
// instead. It returns the artifact reference, empty if nothing could be stored.
func (o *Orchestrator) captureDiagnostics(ctx context.Context, logger log.Logger, jobID string, s browser.Session, report netwatch.Report, msg string) string {
	ctx, cancel := context.WithTimeout(ctx, o.diagnosticsTimeout)
	defer cancel()

	at := o.now()
	var shotErr error
	if s != nil {
		png, err := s.Screenshot(ctx)
		if err == nil && len(png) > 0 {
			ref, err := o.artifacts.Put(ctx, artifact.FailureKey(jobID, at, "png"), artifact.ContentTypePNG, png)
			if err == nil {
				logger.Infof("Failure screenshot stored at %s", ref)
				return ref
			}
			logger.Warningf("Could not store failure screenshot: %s", err)
		}
		shotErr = err
	}

	data := errorReport(jobID, at.Format("2006-01-02T15:04:05Z07:00"), msg, shotErr, report)
	ref, err := o.artifacts.Put(ctx, artifact.FailureKey(jobID, at, "txt"), artifact.ContentTypeText, data)
	if err != nil {
		logger.Errorf("Could not store failure report: %s", err)
		return ""
	}
	logger.Infof("Failure report stored at %s", ref)

	return ref
}

func errorReport(jobID, at, msg string, shotErr error, report netwatch.Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "job: %s\n", jobID)
	fmt.Fprintf(&b, "time: %s\n", at)
	fmt.Fprintf(&b, "error: %s\n", msg)
	if shotErr != nil {
		fmt.Fprintf(&b, "screenshot: %s\n", shotErr)
	}

	if report.Requests > 0 {
		fmt.Fprintf(&b, "requests: %d\n", report.Requests)
		hosts := make([]string, 0, len(report.Hosts))
		for h := range report.Hosts {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			fmt.Fprintf(&b, "  %s: %d\n", h, report.Hosts[h])
		}
	}
	for _, v := range report.Violations {
		fmt.Fprintf(&b, "egress violation: %s\n", v)
	}

	return []byte(b.String())
}
