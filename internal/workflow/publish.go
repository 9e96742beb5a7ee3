package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/interaction"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/task"
)

// PublishConfig bounds one assisted publish.
type PublishConfig struct {
	Platform platform.Platform
	// LoginWait is how long the unit blocks on a login confirmation before
	// proceeding with an unverified session.
	LoginWait time.Duration
}

func (c PublishConfig) withDefaults() PublishConfig {
	if c.Platform == "" {
		c.Platform = platform.Xiaohongshu
	}
	if c.LoginWait <= 0 {
		c.LoginWait = interaction.DefaultLoginWait
	}
	return c
}

// AssistedPublish drafts content and pushes it to a platform with three
// human checkpoints on the way: image selection, login confirmation, and a
// final content review. The first and last suspend the task until a
// confirmation restarts it; the login checkpoint waits inline on the bus and
// proceeds on silence.
type AssistedPublish struct {
	deps Deps
	cfg  PublishConfig
}

// NewAssistedPublish builds the unit.
func NewAssistedPublish(deps Deps, cfg PublishConfig) *AssistedPublish {
	return &AssistedPublish{deps: deps.withDefaults(), cfg: cfg.withDefaults()}
}

// Run implements task.UnitOfWork. Replays fast-forward on shared-context
// keys: the draft and the user's image selection survive restarts, a
// login context id is reused once obtained, and a recorded review request
// counts as approved because a rejection would have failed the task instead
// of restarting it.
func (w *AssistedPublish) Run(ctx context.Context, exec *task.Executor, t *task.Task) (map[string]any, error) {
	pf, err := platform.Parse(stringParam(t.Params, "platform", string(w.cfg.Platform)))
	if err != nil {
		return nil, fmt.Errorf("assisted publish: %w: %w", err, content.ErrInvalidInput)
	}

	draft, err := w.draftStep(ctx, exec, t)
	if err != nil {
		return nil, err
	}

	images, suspended, err := w.imageStep(ctx, exec, t, draft)
	if err != nil || suspended {
		return nil, err
	}

	contextID, err := w.loginStep(ctx, exec, t, pf)
	if err != nil {
		return nil, err
	}

	approved, err := w.reviewStep(ctx, exec, t, pf, draft, images)
	if err != nil || !approved {
		return nil, err
	}

	return w.publishStep(ctx, exec, t, pf, draft, images, contextID)
}

// draftStep normalizes the caller's params into the draft that later steps
// and the reviewer see.
func (w *AssistedPublish) draftStep(ctx context.Context, exec *task.Executor, t *task.Task) (map[string]any, error) {
	if cached, ok := contextMap(t, "step_1_draft"); ok {
		return cached, nil
	}

	body := stringParam(t.Params, "content", "")
	candidates := stringListParam(t.Params, "images")
	if body == "" && len(candidates) == 0 {
		return nil, fmt.Errorf("assisted publish: content or images required: %w", content.ErrInvalidInput)
	}

	draft := map[string]any{
		"title":        stringParam(t.Params, "title", ""),
		"content":      body,
		"content_type": stringParam(t.Params, "content_type", "note"),
		"tags":         stringListParam(t.Params, "tags"),
		"candidates":   candidates,
	}
	if err := exec.UpdateContext(ctx, t, "step_1_draft", draft); err != nil {
		return nil, err
	}
	if err := exec.LogStep(ctx, t, 1, "compose_draft",
		map[string]any{"title": draft["title"]},
		map[string]any{"content_chars": len(body), "image_candidates": len(candidates)}); err != nil {
		return nil, err
	}
	return draft, exec.SetProgress(ctx, t, 20)
}

// imageStep asks the user to pick from the candidate images. With no
// candidates the step is skipped; with candidates and no recorded answer the
// task suspends until a confirmation stores selected_images under the shared
// context's user_response and restarts the run.
func (w *AssistedPublish) imageStep(ctx context.Context, exec *task.Executor, t *task.Task, draft map[string]any) ([]string, bool, error) {
	candidates := toStrings(draft["candidates"])
	if len(candidates) == 0 {
		if !stepLogged(t, 2) {
			if err := exec.LogStep(ctx, t, 2, "select_images", nil,
				map[string]any{"skipped": true, "reason": "no image candidates"}); err != nil {
				return nil, false, err
			}
		}
		return nil, false, exec.SetProgress(ctx, t, 40)
	}

	if response, ok := contextMap(t, "user_response"); ok {
		if selected := toStrings(response["selected_images"]); len(selected) > 0 {
			if !stepLogged(t, 2) {
				if err := exec.LogStep(ctx, t, 2, "select_images",
					map[string]any{"candidates": len(candidates)},
					map[string]any{"selected": len(selected)}); err != nil {
					return nil, false, err
				}
			}
			return selected, false, exec.SetProgress(ctx, t, 40)
		}
	}

	err := exec.RequestInteraction(ctx, t, &task.Interaction{
		Type: task.InteractionImageSelect,
		Data: map[string]any{
			"title":      draft["title"],
			"candidates": candidates,
		},
	})
	return nil, true, err
}

// loginStep secures a browser login context for the publish. A context id
// supplied by the caller or remembered from an earlier pass is reused as is.
// Otherwise the step parks a login_confirm interaction, flips the record to
// waiting in the same write, and blocks on the confirmation topic: a
// confirmation hands the record to the restarted instance (this run
// abdicates), while silence resumes this run with the minted context, the
// way an operator abandoning the login would expect the publish to proceed
// and fail loudly at the platform.
func (w *AssistedPublish) loginStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform) (string, error) {
	if id := stringParam(t.Params, "context_id", ""); id != "" {
		return id, nil
	}
	if id, ok := contextString(t, "login_context_id"); ok && contextBool(t, "step_3_login_requested") {
		if err := w.logLogin(ctx, exec, t, id, "remembered"); err != nil {
			return "", err
		}
		return id, nil
	}

	minted, err := w.deps.IDs.NewContextID()
	if err != nil {
		return "", fmt.Errorf("mint login context id: %w", err)
	}

	// Flag, context id, and descriptor land in one write so a replay can
	// never observe the flag without the parked interaction.
	stageContext(t, "step_3_login_requested", true)
	stageContext(t, "login_context_id", minted)
	if err := exec.Suspend(ctx, t, &task.Interaction{
		Type:           task.InteractionLoginConfirm,
		TimeoutSeconds: int(w.cfg.LoginWait.Seconds()),
		Data: map[string]any{
			"context_id": minted,
			"platform":   string(pf),
			"message":    "log in to the platform account, then confirm",
		},
	}); err != nil {
		return "", err
	}

	if err := interaction.WaitLoginConfirm(ctx, w.deps.Bus, minted, w.cfg.LoginWait, w.deps.Logger); err != nil {
		return "", err
	}

	if w.superseded(ctx, t) {
		return "", task.ErrSuperseded
	}
	if err := exec.Resume(ctx, t); err != nil {
		return "", err
	}
	if err := w.logLogin(ctx, exec, t, minted, "unconfirmed"); err != nil {
		return "", err
	}
	return minted, nil
}

func (w *AssistedPublish) logLogin(ctx context.Context, exec *task.Executor, t *task.Task, contextID, how string) error {
	if !stepLogged(t, 3) {
		if err := exec.LogStep(ctx, t, 3, "ensure_login", nil,
			map[string]any{"context_id": contextID, "via": how}); err != nil {
			return err
		}
	}
	return exec.SetProgress(ctx, t, 60)
}

// superseded reports whether a confirmation already reset the stored record
// while this run was waiting; the restarted instance owns it from there.
func (w *AssistedPublish) superseded(ctx context.Context, t *task.Task) bool {
	if w.deps.Store == nil {
		return false
	}
	latest, err := w.deps.Store.Get(ctx, t.ID)
	if err != nil {
		w.deps.Logger.Warn("task reload after login wait failed",
			zap.String("task_id", t.ID), zap.Error(err))
		return false
	}
	return latest.Status != task.StatusWaitingHumanInput
}

// reviewStep suspends for a final human look at the assembled draft. A set
// flag on a running replay means the reviewer approved: rejections fail the
// task in the confirmation handler and never restart it.
func (w *AssistedPublish) reviewStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, draft map[string]any, images []string) (bool, error) {
	if contextBool(t, "step_4_review_requested") {
		if !stepLogged(t, 4) {
			if err := exec.LogStep(ctx, t, 4, "review_content", nil,
				map[string]any{"approved": true}); err != nil {
				return false, err
			}
		}
		return true, exec.SetProgress(ctx, t, 80)
	}

	body, _ := draft["content"].(string)
	stageContext(t, "step_4_review_requested", true)
	err := exec.RequestInteraction(ctx, t, &task.Interaction{
		Type: task.InteractionContentReview,
		Data: map[string]any{
			"platform": string(pf),
			"title":    draft["title"],
			"excerpt":  excerpt(body, 300),
			"images":   images,
			"tags":     draft["tags"],
		},
	})
	return false, err
}

func (w *AssistedPublish) publishStep(ctx context.Context, exec *task.Executor, t *task.Task, pf platform.Platform, draft map[string]any, images []string, contextID string) (map[string]any, error) {
	title, _ := draft["title"].(string)
	body, _ := draft["content"].(string)
	kind, _ := draft["content_type"].(string)

	receipt, err := w.deps.Router.Publish(ctx, pf, content.PublishRequest{
		Kind:      kind,
		Title:     title,
		Body:      body,
		Images:    images,
		Tags:      toStrings(draft["tags"]),
		ContextID: contextID,
	})
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", pf, err)
	}

	if err := exec.LogStep(ctx, t, 5, "publish_content",
		map[string]any{"platform": string(pf), "context_id": contextID},
		map[string]any{"success": receipt.Success, "url": receipt.URL}); err != nil {
		return nil, err
	}
	if err := exec.SetProgress(ctx, t, 100); err != nil {
		return nil, err
	}

	return map[string]any{
		"published": receipt.Success,
		"platform":  string(pf),
		"title":     title,
		"url":       receipt.URL,
		"message":   receipt.Message,
	}, nil
}
