package predicate

import (
	"path"
	"regexp"
	"strings"

	"github.com/gantryci/gantry/internal/push"
)

// Evaluate walks the predicate tree against a push context. The view may
// be nil when no goal-state listener is attached; is_goal then sees no
// observations and evaluates false.
//
// Evaluation is deterministic for a given context and view and has no
// side effects. Malformed nodes fail with InvalidPredicateError.
func Evaluate(n Node, ctx push.Context, view GoalStateView) (bool, error) {
	if view == nil {
		view = emptyView{}
	}
	return evaluate(n, ctx, view)
}

func evaluate(n Node, ctx push.Context, view GoalStateView) (bool, error) {
	switch n.Kind {
	case KindHasFile:
		if strings.TrimSpace(n.Path) == "" {
			return false, invalidf("has_file requires path")
		}
		return ctx.Files.Exists(n.Path)
	case KindHasFileContaining:
		return evaluateHasFileContaining(n, ctx)
	case KindIsBranch:
		if n.Pattern == "" {
			return false, invalidf("is_branch requires pattern")
		}
		if ctx.Branch == n.Pattern {
			return true, nil
		}
		re, err := regexp.Compile("^(?:" + n.Pattern + ")$")
		if err != nil {
			return false, invalidf("is_branch pattern %q: %v", n.Pattern, err)
		}
		return re.MatchString(ctx.Branch), nil
	case KindIsDefaultBranch:
		return ctx.IsDefaultBranch(), nil
	case KindIsMaterialChange:
		return evaluateMaterialChange(n, ctx)
	case KindIsGoal:
		return evaluateIsGoal(n, ctx, view)
	case KindAnd:
		if len(n.Children) == 0 {
			return false, invalidf("and requires at least one child")
		}
		for _, child := range n.Children {
			ok, err := evaluate(child, ctx, view)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case KindOr:
		if len(n.Children) == 0 {
			return false, invalidf("or requires at least one child")
		}
		for _, child := range n.Children {
			ok, err := evaluate(child, ctx, view)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case KindNot:
		if len(n.Children) != 1 {
			return false, invalidf("not requires exactly one child, got %d", len(n.Children))
		}
		ok, err := evaluate(n.Children[0], ctx, view)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, invalidf("unknown predicate kind %q", n.Kind)
	}
}

func evaluateHasFileContaining(n Node, ctx push.Context) (bool, error) {
	if n.Pattern == "" {
		return false, invalidf("has_file_containing requires pattern")
	}
	if n.Content == "" {
		return false, invalidf("has_file_containing requires content")
	}
	re, err := regexp.Compile(n.Content)
	if err != nil {
		return false, invalidf("has_file_containing content %q: %v", n.Content, err)
	}
	matches, err := ctx.Files.Glob(n.Pattern)
	if err != nil {
		return false, err
	}
	// Zero matching files is an ordinary false, not an error.
	for _, p := range matches {
		body, err := ctx.Files.Content(p)
		if err != nil {
			return false, err
		}
		if re.Match(body) {
			return true, nil
		}
	}
	return false, nil
}

func evaluateMaterialChange(n Node, ctx push.Context) (bool, error) {
	noCriteria := len(n.Files) == 0 && len(n.Extensions) == 0 &&
		len(n.Directories) == 0 && len(n.Patterns) == 0
	if noCriteria {
		// Without criteria every change is material.
		return len(ctx.Changed) > 0, nil
	}
	for _, changed := range ctx.Changed {
		ok, err := matchesChange(n, changed)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchesChange(n Node, changed string) (bool, error) {
	for _, f := range n.Files {
		if changed == f {
			return true, nil
		}
	}
	ext := strings.TrimPrefix(path.Ext(changed), ".")
	for _, e := range n.Extensions {
		if ext != "" && ext == strings.TrimPrefix(e, ".") {
			return true, nil
		}
	}
	for _, dir := range n.Directories {
		prefix := strings.TrimSuffix(dir, "/") + "/"
		if strings.HasPrefix(changed, prefix) {
			return true, nil
		}
	}
	for _, pattern := range n.Patterns {
		ok, err := path.Match(pattern, changed)
		if err != nil {
			return false, invalidf("is_material_change pattern %q: %v", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evaluateIsGoal(n Node, _ push.Context, view GoalStateView) (bool, error) {
	if n.Pattern == "" {
		return false, invalidf("is_goal requires pattern")
	}
	if n.State == "" {
		return false, invalidf("is_goal requires state")
	}
	re, err := regexp.Compile("^(?:" + n.Pattern + ")$")
	if err != nil {
		return false, invalidf("is_goal pattern %q: %v", n.Pattern, err)
	}
	for _, obs := range view.Observations() {
		if obs.State != n.State || !re.MatchString(obs.Goal) {
			continue
		}
		if n.Test == nil {
			return true, nil
		}
		if !obs.HasPush {
			// Nested tests need the observed goal's own push context.
			continue
		}
		ok, err := evaluate(*n.Test, obs.Push, view)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
