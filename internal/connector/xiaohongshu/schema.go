package xiaohongshu

import "github.com/AI-static/Aether/internal/connector"

// initialStateExpr pulls the server-rendered note payload the explore pages
// embed. Cheaper than an AI extraction pass whenever it is present.
const initialStateExpr = `(() => {
  const state = window.__INITIAL_STATE__;
  if (!state || !state.note || !state.note.noteDetailMap) return null;
  const map = state.note.noteDetailMap;
  const ids = Object.keys(map);
  return ids.length ? map[ids[0]] : null;
})()`

const (
	noteInstruction      = "提取小红书笔记：标题、正文内容、作者信息、互动数据（点赞、收藏、评论、分享）、图片列表"
	userNotesInstruction = "提取该用户发布的笔记列表，包括标题、封面图、互动数据和发布时间"
	searchInstruction    = "提取搜索结果中的笔记列表，包括标题、作者、互动数据和笔记链接"
	generalInstruction   = "提取页面主要内容和数据"
)

func noteSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string", "description": "笔记标题"},
			"content": map[string]any{"type": "string", "description": "笔记正文"},
			"author": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id":  map[string]any{"type": "string"},
					"nickname": map[string]any{"type": "string"},
					"avatar":   map[string]any{"type": "string"},
				},
			},
			"interact_info": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"liked_count":     map[string]any{"type": "integer"},
					"collected_count": map[string]any{"type": "integer"},
					"comment_count":   map[string]any{"type": "integer"},
					"shared_count":    map[string]any{"type": "integer"},
				},
			},
			"images": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
}

func userNotesSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"notes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":           map[string]any{"type": "string"},
						"cover":           map[string]any{"type": "string"},
						"liked_count":     map[string]any{"type": "integer"},
						"collected_count": map[string]any{"type": "integer"},
						"comment_count":   map[string]any{"type": "integer"},
						"publish_time":    map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"author":      map[string]any{"type": "string"},
						"liked_count": map[string]any{"type": "integer"},
						"url":         map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// processNoteDetail flattens a raw noteDetailMap entry into the normalized
// note shape. Returns nil when the payload does not look like a note, which
// sends the caller down the AI-extraction fallback.
func processNoteDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	note, ok := detail["note"].(map[string]any)
	if !ok {
		return nil
	}
	user, _ := note["user"].(map[string]any)
	interact, _ := note["interactInfo"].(map[string]any)

	nickname := connector.StringField(user, "nickname")
	if nickname == "" {
		nickname = connector.StringField(user, "nickName")
	}

	images := make([]map[string]any, 0)
	if list, ok := note["imageList"].([]any); ok {
		for _, item := range list {
			img, ok := item.(map[string]any)
			if !ok {
				continue
			}
			images = append(images, map[string]any{
				"url":    img["urlDefault"],
				"width":  img["width"],
				"height": img["height"],
			})
		}
	}

	return map[string]any{
		"note_id": note["noteId"],
		"title":   note["title"],
		"desc":    note["desc"],
		"type":    note["type"],
		"time":    note["time"],
		"user": map[string]any{
			"user_id":  user["userId"],
			"nickname": nickname,
			"avatar":   user["avatar"],
		},
		"interact_info": map[string]any{
			"liked_count":     interact["likedCount"],
			"comment_count":   interact["commentCount"],
			"shared_count":    interact["sharedCount"],
			"collected_count": interact["collectedCount"],
		},
		"images": images,
	}
}
