package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event.
//
// Fields are applied in order; if the same key is set twice, the later one wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every component, so one query finds all lines of a run.
const (
	KeyComponent = "comp"
	KeyRepo      = "repo"
	KeyJob       = "job"
	KeyRun       = "run"
	KeySession   = "session"
)

func Component(name string) Field { return String(KeyComponent, name) }
func Repo(id string) Field        { return String(KeyRepo, id) }
func Job(id string) Field         { return String(KeyJob, id) }
func Run(id string) Field         { return String(KeyRun, id) }
func Session(id string) Field     { return String(KeySession, id) }

// RunScope tags a line with the repository, job and run it belongs to.
// Empty ids are left out.
func RunScope(repoID, jobID, runID string) Field {
	return func(e *zerolog.Event) {
		for _, kv := range [...][2]string{{KeyRepo, repoID}, {KeyJob, jobID}, {KeyRun, runID}} {
			if kv[1] != "" {
				e.Str(kv[0], kv[1])
			}
		}
	}
}

// SecretSet logs "<k>_set" instead of the secret itself.
func SecretSet(k, secret string) Field {
	return Bool(k+"_set", strings.TrimSpace(secret) != "")
}
