package social

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/media"
)

type PostMedia struct {
	URL          string     `json:"url"`
	Type         media.Kind `json:"type"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Duration     float64    `json:"duration,omitempty"`
}

type Post struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Text       string     `json:"text"`
	Media      *PostMedia `json:"media,omitempty"`
	CreatedAt  int64      `json:"createdAt"`
}

type Comment struct {
	ID         string `json:"id"`
	PostID     string `json:"postId"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}

// PostView is a post as seen by one viewer.
type PostView struct {
	Post
	Likes     int  `json:"likes"`
	LikedByMe bool `json:"likedByMe"`
	Comments  int  `json:"comments"`
}

func (s *Service) viewLocked(viewer string, p *Post) PostView {
	return PostView{
		Post:      *p,
		Likes:     len(s.likes[p.ID]),
		LikedByMe: s.likes[p.ID][viewer],
		Comments:  len(s.comments[p.ID]),
	}
}

func (s *Service) checkText(text string, limit int, allowEmpty bool) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" && !allowEmpty {
		return "", ErrInvalid
	}
	if limit > 0 && utf8.RuneCountInString(text) > limit {
		return "", fmt.Errorf("%w: text longer than %d characters", ErrInvalid, limit)
	}
	return text, nil
}

// CreatePost publishes a post. It needs text, media or both.
func (s *Service) CreatePost(ctx context.Context, uid, name, text string, m *PostMedia) (PostView, error) {
	text, err := s.checkText(text, s.cfg.MaxPostRunes, m != nil)
	if err != nil {
		return PostView{}, err
	}
	if m != nil {
		if m.URL == "" {
			return PostView{}, ErrInvalid
		}
		switch m.Type {
		case media.KindImage:
		case media.KindVideo:
			if err := media.CheckDuration(m.Duration, s.cfg.MaxVideoSeconds); err != nil {
				return PostView{}, err
			}
		default:
			return PostView{}, media.ErrUnsupportedType
		}
		cp := *m
		m = &cp
	}
	p := &Post{ID: newID(), AuthorID: uid, AuthorName: name, Text: text, Media: m, CreatedAt: s.nowMs()}

	s.mu.Lock()
	s.posts[p.ID] = p
	s.mark(kindPost, p.ID, p.ID)
	v := s.viewLocked(uid, p)
	s.mu.Unlock()

	s.publish(ctx, []change{{PostTopic(p.ID), hub.Added, p.ID, v}})
	return v, nil
}

// DeletePost removes a post with its likes and comments. Author only.
func (s *Service) DeletePost(ctx context.Context, uid, id string) error {
	s.mu.Lock()
	p, ok := s.posts[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if p.AuthorID != uid {
		s.mu.Unlock()
		return ErrForbidden
	}
	delete(s.posts, id)
	delete(s.likes, id)
	delete(s.comments, id)
	s.mark(kindPost, id, id)
	s.journal.Purge(id, kindLike, kindComment)
	s.mu.Unlock()

	s.publish(ctx, []change{{PostTopic(id), hub.Removed, id, nil}})
	return nil
}

// ToggleLike flips uid's like on a post and returns the new state and
// like count.
func (s *Service) ToggleLike(ctx context.Context, uid, name, postID string) (bool, int, error) {
	var changes []change
	s.mu.Lock()
	p, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return false, 0, ErrNotFound
	}
	if s.blockedLocked(uid, p.AuthorID) {
		s.mu.Unlock()
		return false, 0, ErrBlocked
	}
	likes := s.likes[postID]
	if likes == nil {
		likes = set{}
		s.likes[postID] = likes
	}
	liked := !likes[uid]
	if liked {
		likes[uid] = true
		if p.AuthorID != uid {
			n := s.notifyLocked(p.AuthorID, uid, name, KindLike, postID)
			changes = append(changes, change{NotificationsTopic(p.AuthorID), hub.Added, n.ID, n})
		}
	} else {
		delete(likes, uid)
	}
	s.mark(kindLike, postID, uid)
	count := len(likes)
	changes = append(changes, change{PostTopic(postID), hub.Changed, postID, map[string]any{"likes": count}})
	author := p.AuthorID
	s.mu.Unlock()

	s.publish(ctx, changes)
	if liked && author != uid {
		s.emit(ctx, events.Event{Type: events.PostLiked, Actor: uid, Subject: author, Ref: postID})
	}
	return liked, count, nil
}

func (s *Service) AddComment(ctx context.Context, uid, name, postID, text string) (Comment, error) {
	text, err := s.checkText(text, s.cfg.MaxCommentRunes, false)
	if err != nil {
		return Comment{}, err
	}
	changes := make([]change, 0, 2)
	s.mu.Lock()
	p, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return Comment{}, ErrNotFound
	}
	if s.blockedLocked(uid, p.AuthorID) {
		s.mu.Unlock()
		return Comment{}, ErrBlocked
	}
	c := Comment{ID: newID(), PostID: postID, AuthorID: uid, AuthorName: name, Text: text, CreatedAt: s.nowMs()}
	s.comments[postID] = append(s.comments[postID], c)
	s.mark(kindComment, postID, c.ID)
	changes = append(changes, change{PostTopic(postID), hub.Added, c.ID, c})
	if p.AuthorID != uid {
		n := s.notifyLocked(p.AuthorID, uid, name, KindComment, postID)
		changes = append(changes, change{NotificationsTopic(p.AuthorID), hub.Added, n.ID, n})
	}
	author := p.AuthorID
	s.mu.Unlock()

	s.publish(ctx, changes)
	if author != uid {
		s.emit(ctx, events.Event{Type: events.PostCommented, Actor: uid, Subject: author, Ref: postID})
	}
	return c, nil
}

// DeleteComment is allowed for the comment's author and the post's author.
func (s *Service) DeleteComment(ctx context.Context, uid, postID, commentID string) error {
	s.mu.Lock()
	p, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	list := s.comments[postID]
	idx := -1
	for i, c := range list {
		if c.ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if list[idx].AuthorID != uid && p.AuthorID != uid {
		s.mu.Unlock()
		return ErrForbidden
	}
	s.comments[postID] = append(list[:idx:idx], list[idx+1:]...)
	s.mark(kindComment, postID, commentID)
	s.mu.Unlock()

	s.publish(ctx, []change{{PostTopic(postID), hub.Removed, commentID, nil}})
	return nil
}

func (s *Service) Post(viewer, id string) (PostView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok || s.blockedLocked(viewer, p.AuthorID) {
		return PostView{}, ErrNotFound
	}
	return s.viewLocked(viewer, p), nil
}

// Comments lists a post's comments oldest first.
func (s *Service) Comments(viewer, postID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	if !ok || s.blockedLocked(viewer, p.AuthorID) {
		return nil, ErrNotFound
	}
	out := make([]Comment, 0, len(s.comments[postID]))
	for _, c := range s.comments[postID] {
		if !s.blockedLocked(viewer, c.AuthorID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Feed returns posts by uid, the users uid follows and uid's friends,
// newest first.
func (s *Service) Feed(uid string, limit int) []PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postsLocked(uid, limit, func(author string) bool {
		if author == uid || s.following[uid][author] {
			return true
		}
		_, friend := s.friends[uid][author]
		return friend
	})
}

// UserPosts returns author's posts as seen by viewer, newest first.
func (s *Service) UserPosts(viewer, author string, limit int) []PostView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.postsLocked(viewer, limit, func(a string) bool { return a == author })
}

func (s *Service) postsLocked(viewer string, limit int, include func(author string) bool) []PostView {
	var out []PostView
	for _, p := range s.posts {
		if !include(p.AuthorID) || s.blockedLocked(viewer, p.AuthorID) {
			continue
		}
		out = append(out, s.viewLocked(viewer, p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
