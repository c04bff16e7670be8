package scheduler

import (
	"context"
	"fmt"
	"strings"

	"repocron/internal/domain"
)

// renderPrompt replaces {{name}} tokens with vars in a single pass. Unknown
// tokens are left as written.
func renderPrompt(tmpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func promptVars(repo domain.Repository, item domain.TargetItem) map[string]string {
	vars := item.Fields()
	vars["repo"] = repo.Key()
	vars["repo_path"] = repo.LocalPath
	return vars
}

// resolvePrompt returns the prompt for one item. ok is false when the job has
// no usable prompt source for it.
func (s *Service) resolvePrompt(ctx context.Context, repo domain.Repository, job *domain.ScheduledJob, item domain.TargetItem) (string, bool, error) {
	vars := promptVars(repo, item)
	custom := strings.TrimSpace(job.CustomPrompt)

	if cmd := strings.TrimSpace(job.CommandID); cmd != "" {
		body, ok, err := s.deps.Templates.Get(ctx, cmd, job.TargetType.TemplateCategory(), repo.LocalPath)
		switch {
		case err != nil && (job.TargetType != domain.TargetCustom || custom == ""):
			return "", false, fmt.Errorf("template %s: %w", cmd, err)
		case err == nil && ok:
			return renderPrompt(body, vars), true, nil
		}
	}
	if job.TargetType == domain.TargetCustom && custom != "" {
		return renderPrompt(job.CustomPrompt, vars), true, nil
	}
	return "", false, nil
}
