package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hr-realtime/internal/presence"

	"github.com/gin-gonic/gin"
)

type fakeRegistry struct {
	snaps map[string]presence.Snapshot
}

func (f *fakeRegistry) Get(userID string) presence.Snapshot {
	if s, ok := f.snaps[userID]; ok {
		return s
	}
	return presence.Snapshot{UserID: userID, Status: presence.StatusOffline}
}

func (f *fakeRegistry) Sessions(userID string) []presence.Session {
	if f.snaps[userID].IsOnline {
		return []presence.Session{{UserID: userID, ConnectionID: "c1", Status: presence.StatusOnline}}
	}
	return nil
}

type fakeMirror struct {
	online    map[string]bool
	snaps     map[string]presence.Snapshot
	onlineErr error
	gets      int
}

func (f *fakeMirror) IsOnline(_ context.Context, userID string) (bool, error) {
	if f.onlineErr != nil {
		return false, f.onlineErr
	}
	return f.online[userID], nil
}

func (f *fakeMirror) Get(_ context.Context, userID string) (presence.Snapshot, error) {
	f.gets++
	if s, ok := f.snaps[userID]; ok {
		return s, nil
	}
	return presence.Snapshot{UserID: userID, Status: presence.StatusOffline}, nil
}

func (f *fakeMirror) GetOnlineCount(context.Context) (int64, error) {
	return int64(len(f.online)), nil
}

type presenceBody struct {
	Success bool `json:"success"`
	Data    struct {
		IsOnline bool   `json:"is_online"`
		Status   string `json:"current_status"`
		LastSeen string `json:"last_seen"`
		Sessions int    `json:"sessions"`
	} `json:"data"`
}

func getPresence(t *testing.T, h *PresenceHandler, userID string) (int, presenceBody) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/presence/:user_id", h.Get)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presence/"+userID, nil)
	r.ServeHTTP(w, req)

	var body presenceBody
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
	}
	return w.Code, body
}

func TestPresenceGet(t *testing.T) {
	seen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		local      map[string]presence.Snapshot
		mirror     *fakeMirror
		user       string
		wantOnline bool
		wantStatus string
		wantGets   int
	}{
		{
			name:       "online here",
			local:      map[string]presence.Snapshot{"u1": {UserID: "u1", IsOnline: true, Status: presence.StatusOnline}},
			mirror:     &fakeMirror{},
			user:       "u1",
			wantOnline: true,
			wantStatus: "online",
			wantGets:   0,
		},
		{
			name:  "offline everywhere after being seen here",
			local: map[string]presence.Snapshot{"u1": {UserID: "u1", Status: presence.StatusOffline, LastSeen: seen}},
			mirror: &fakeMirror{
				snaps: map[string]presence.Snapshot{"u1": {UserID: "u1", Status: presence.StatusOffline}},
			},
			user:       "u1",
			wantStatus: "offline",
			wantGets:   0,
		},
		{
			name:  "online on another node",
			local: map[string]presence.Snapshot{"u1": {UserID: "u1", Status: presence.StatusOffline, LastSeen: seen}},
			mirror: &fakeMirror{
				online: map[string]bool{"u1": true},
				snaps:  map[string]presence.Snapshot{"u1": {UserID: "u1", IsOnline: true, Status: presence.StatusIdle}},
			},
			user:       "u1",
			wantOnline: true,
			wantStatus: "idle",
			wantGets:   1,
		},
		{
			name: "never seen here",
			mirror: &fakeMirror{
				snaps: map[string]presence.Snapshot{"u9": {UserID: "u9", Status: presence.StatusOffline, LastSeen: seen}},
			},
			user:       "u9",
			wantStatus: "offline",
			wantGets:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPresenceHandler(&fakeRegistry{snaps: tt.local}, tt.mirror)
			code, body := getPresence(t, h, tt.user)
			if code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if body.Data.IsOnline != tt.wantOnline || body.Data.Status != tt.wantStatus {
				t.Errorf("got online=%v status=%q", body.Data.IsOnline, body.Data.Status)
			}
			if tt.mirror.gets != tt.wantGets {
				t.Errorf("mirror reads = %d, want %d", tt.mirror.gets, tt.wantGets)
			}
		})
	}
}

func TestPresenceGetMirrorError(t *testing.T) {
	h := NewPresenceHandler(&fakeRegistry{}, &fakeMirror{onlineErr: errors.New("redis down")})
	code, _ := getPresence(t, h, "u1")
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
}
