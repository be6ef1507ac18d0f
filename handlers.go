package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
)

const noticeCookieName = "notice"

var notices = map[string]string{
	"load-failed":   "Could not load posts.",
	"save-failed":   "Could not save post.",
	"delete-failed": "Could not delete post.",
}

type editorForm struct {
	Action string
	Post   Post
}

func setNotice(w http.ResponseWriter, code string) {
	http.SetCookie(w, &http.Cookie{
		Name:     noticeCookieName,
		Value:    code,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
}

// takeNotice returns the pending notice message and clears it.
func takeNotice(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(noticeCookieName)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: noticeCookieName, Value: "", Path: "/", MaxAge: -1})
	return notices[cookie.Value]
}

func (m *Manager) render(w http.ResponseWriter, r *http.Request, page string, status int, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := m.templates[page].ExecuteTemplate(w, "base", data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("page", page).Msg("rendering template")
	}
}

// mount loads the post list for this request, the way the list view does
// every time it is shown.
func (m *Manager) mount(r *http.Request) (*Store, bool) {
	store := NewStore()
	tokens := m.tokensFor(r)
	err := store.Load(r.Context(), func(ctx context.Context) ([]Post, error) {
		return m.api.ListPosts(ctx, tokens)
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).
			Stringer("kind", errorKind(err)).
			Msg("loading posts")
		return store, false
	}
	return store, true
}

func (m *Manager) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (m *Manager) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (m *Manager) List(w http.ResponseWriter, r *http.Request) {
	store, ok := m.mount(r)
	m.renderList(w, r, store, ok, nil)
}

func (m *Manager) renderList(w http.ResponseWriter, r *http.Request, store *Store, loadOK bool, editor *editorForm) {
	notice := takeNotice(w, r)
	if !loadOK && notice == "" {
		notice = notices["load-failed"]
	}

	title := "Posts"
	if editor != nil {
		title = "New post"
		if !editor.Post.IsDraft() {
			title = fmt.Sprintf("Editing %q", editor.Post.Title)
		}
	}

	data := map[string]any{
		"Title":           title,
		"Posts":           store.Posts(),
		"Loaded":          store.State() == StateLoaded,
		"Editor":          editor,
		"Notice":          notice,
		"IsAuthenticated": true,
		"CSRFToken":       m.ensureCSRFToken(w, r),
	}
	m.render(w, r, "list.html", http.StatusOK, data)
}

// Editor shows the list with the editor overlaid for /posts/{id}.
func (m *Manager) Editor(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["id"]
	store, ok := m.mount(r)

	target := resolveEditor(store, param)
	switch target.Mode {
	case EditorRedirect:
		if !ok {
			setNotice(w, "load-failed")
		}
		http.Redirect(w, r, "/posts", http.StatusSeeOther)
	case EditorDeferred:
		m.renderList(w, r, store, ok, nil)
	case EditorCreate:
		m.renderList(w, r, store, ok, &editorForm{Action: "/posts/" + newPostParam})
	case EditorEdit:
		m.renderList(w, r, store, ok, &editorForm{Action: postPath(target.Post.ID), Post: target.Post})
	}
}

// Save creates or updates a post, then returns to the list whatever the
// outcome. A failure only leaves a notice behind.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	post := Post{
		Title: r.FormValue("title"),
		Body:  r.FormValue("body"),
	}

	param := mux.Vars(r)["id"]
	if param != newPostParam {
		id, err := strconv.ParseInt(param, 10, 64)
		if err != nil || id <= 0 {
			http.Redirect(w, r, "/posts", http.StatusSeeOther)
			return
		}
		post.ID = id
	}

	if _, err := m.api.SavePost(r.Context(), m.tokensFor(r), post); err != nil {
		hlog.FromRequest(r).Error().Err(err).
			Stringer("kind", errorKind(err)).
			Int64("post_id", post.ID).
			Msg("saving post")
		setNotice(w, "save-failed")
	}

	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (m *Manager) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Redirect(w, r, "/posts", http.StatusSeeOther)
		return
	}

	store, _ := m.mount(r)
	post, found := store.Find(id)
	if !found {
		http.Redirect(w, r, "/posts", http.StatusSeeOther)
		return
	}

	data := map[string]any{
		"Title":           fmt.Sprintf("Deleting %q", post.Title),
		"Post":            post,
		"IsAuthenticated": true,
		"CSRFToken":       m.ensureCSRFToken(w, r),
	}
	m.render(w, r, "delete.html", http.StatusOK, data)
}

// Delete removes the post only when the confirmation was accepted.
func (m *Manager) Delete(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 || r.FormValue("confirm") != "yes" {
		http.Redirect(w, r, "/posts", http.StatusSeeOther)
		return
	}

	if err := m.api.DeletePost(r.Context(), m.tokensFor(r), id); err != nil {
		hlog.FromRequest(r).Error().Err(err).
			Stringer("kind", errorKind(err)).
			Int64("post_id", id).
			Msg("deleting post")
		setNotice(w, "delete-failed")
	}

	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (m *Manager) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if m.isAuthenticated(r) {
			http.Redirect(w, r, "/posts", http.StatusSeeOther)
			return
		}
		m.renderLogin(w, r, http.StatusOK, "")
		return
	}

	if !parseFormWithCSRF(w, r) {
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	validUser := subtle.ConstantTimeCompare([]byte(username), []byte(m.cfg.AdminUser)) == 1
	if !checkPassword(m.cfg.AdminPassHash, password) || !validUser {
		hlog.FromRequest(r).Warn().Str("username", username).Msg("failed login")
		m.renderLogin(w, r, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	accessToken, err := m.accessTokenForLogin()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("minting access token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	token, err := m.sessions.Create(r.Context(), operatorUserID, accessToken)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("creating session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})

	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (m *Manager) renderLogin(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	data := map[string]any{
		"Title":     "Login",
		"Error":     errMsg,
		"CSRFToken": m.ensureCSRFToken(w, r),
	}
	m.render(w, r, "login.html", status, data)
}

func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := m.sessions.Delete(r.Context(), cookie.Value); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("deleting session")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.SecureCookies,
		MaxAge:   -1,
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
