package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"duet/internal/apperr"
	"duet/internal/content"
	"duet/internal/filestore"
	"duet/internal/models"

	"github.com/rs/zerolog/log"
)

const pushTimeout = 10 * time.Second

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	profile, err := a.store.GetProfile(profileID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile.Online = a.hub.IsOnline(profile.ID)
	writeJSON(w, http.StatusOK, profile)
}

// ProfilesHandler lists everyone except the caller, ordered by display name.
func (a *API) ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	self := profileID(r)
	profiles, err := a.store.ListProfiles()
	if err != nil {
		writeError(w, r, err)
		return
	}

	others := make([]models.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.ID == self {
			continue
		}
		p.Online = a.hub.IsOnline(p.ID)
		others = append(others, p)
	}
	writeJSON(w, http.StatusOK, others)
}

// peer resolves the {peer} path value to a profile other than the caller.
func (a *API) peer(r *http.Request) (models.Profile, error) {
	peerID := r.PathValue("peer")
	if peerID == profileID(r) {
		return models.Profile{}, apperr.BadRequest("Cannot open a conversation with yourself")
	}
	peer, err := a.store.GetProfile(peerID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Profile{}, apperr.NotFound("Unknown profile")
	}
	return peer, err
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	peer, err := a.peer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	messages, err := a.store.ListConversation(profileID(r), peer.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) SendHandler(w http.ResponseWriter, r *http.Request) {
	self := profileID(r)
	peer, err := a.peer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var draft models.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, err)
		return
	}
	if draft.Empty() {
		writeError(w, r, apperr.BadRequest("Message is empty"))
		return
	}
	for _, u := range []string{draft.ImageURL, draft.ThumbnailURL, draft.VoiceURL} {
		if u != "" && !a.uploader.OwnedBy(self, u) {
			writeError(w, r, apperr.BadRequest("Attachment was not uploaded by you"))
			return
		}
	}

	text, html, err := content.PrepareMessage(draft.Content)
	if err != nil {
		writeError(w, r, apperr.BadRequest("Message is too long"))
		return
	}

	sender, err := a.store.GetProfile(self)
	if err != nil {
		writeError(w, r, err)
		return
	}

	message, err := a.store.InsertMessage(models.Message{
		Content:      text,
		ContentHTML:  html,
		SenderName:   sender.DisplayName,
		SenderID:     self,
		RecipientID:  peer.ID,
		ImageURL:     draft.ImageURL,
		ThumbnailURL: draft.ThumbnailURL,
		VoiceURL:     draft.VoiceURL,
	}, a.now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	a.hub.Publish(models.Event{Type: models.EventTypeMessageInsert, Message: &message}, self, peer.ID)

	if !a.hub.IsOnline(peer.ID) && a.push.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			a.push.NotifyMessage(ctx, message)
		}()
	}

	writeJSON(w, http.StatusCreated, message)
}

// ReadHandler marks every unread message from the peer as read by the caller.
func (a *API) ReadHandler(w http.ResponseWriter, r *http.Request) {
	self := profileID(r)
	peer, err := a.peer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := a.store.MarkRead(self, peer.ID, a.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range updated {
		a.hub.Publish(models.Event{Type: models.EventTypeMessageUpdate, Message: &updated[i]}, self, peer.ID)
	}
	if updated == nil {
		updated = []models.Message{}
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) UploadMediaHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseMediaKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, r, apperr.BadRequest("kind must be image or voice"))
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBytes+1<<16)
	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, apperr.New(http.StatusRequestEntityTooLarge, "File is too large"))
			return
		}
		writeError(w, r, apperr.BadRequest("Missing file"))
		return
	}
	defer func() { _ = file.Close() }()

	ref, err := a.uploader.Upload(r.Context(), profileID(r), kind, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// MediaHandler serves objects of the local media bucket.
func (a *API) MediaHandler(w http.ResponseWriter, r *http.Request) {
	key := fmt.Sprintf("%s/%s", r.PathValue("owner"), r.PathValue("name"))
	meta, err := a.store.GetFileMetadata(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	rc, err := a.files.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, filestore.ErrInvalidKey) {
			http.NotFound(w, r)
			return
		}
		writeError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("media download interrupted")
	}
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	if !a.push.Enabled() {
		writeError(w, r, apperr.NotFound("Push notifications are not configured"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		PublicKey string `json:"publicKey"`
	}{a.push.PublicKey})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var sub models.PushSubscription
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(w, r, err)
		return
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, r, apperr.BadRequest("Incomplete push subscription"))
		return
	}
	if err := a.store.UpsertPushSubscription(profileID(r), sub); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
