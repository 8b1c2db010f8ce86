package lock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/testutil"
)

func TestAcquire_Success(t *testing.T) {
	db := testutil.NewDB(t)

	session, err := Acquire(db, "dispatch", "api", DefaultHeartbeatTimeout)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if session.ID == 0 {
		t.Fatal("expected session ID to be set")
	}
	if session.Status != StatusActive || session.Kind != "dispatch" || session.Holder != "api" {
		t.Errorf("session = %+v", session)
	}
}

func TestAcquire_HeldByOtherPass(t *testing.T) {
	db := testutil.NewDB(t)

	if _, err := Acquire(db, "dispatch", "api", DefaultHeartbeatTimeout); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	_, err := Acquire(db, "retry", "cron", DefaultHeartbeatTimeout)
	if !errors.Is(err, ErrPassActive) {
		t.Fatalf("err = %v, want ErrPassActive", err)
	}
	if !strings.Contains(err.Error(), `held by "api"`) {
		t.Errorf("err = %q", err.Error())
	}
}

func TestAcquire_ReclaimsStaleSession(t *testing.T) {
	db := testutil.NewDB(t)

	stale, err := Acquire(db, "dispatch", "crashed", DefaultHeartbeatTimeout)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	db.Model(&models.PassSession{}).Where("id = ?", stale.ID).
		Update("last_heartbeat", time.Now().Add(-5*time.Minute))

	fresh, err := Acquire(db, "retry", "cli", DefaultHeartbeatTimeout)
	if err != nil {
		t.Fatalf("Acquire after stale: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Error("expected a new session")
	}

	var old models.PassSession
	db.First(&old, stale.ID)
	if old.Status != StatusExpired || old.CompletedAt == nil {
		t.Errorf("stale session = %+v", old)
	}
}

func TestRelease(t *testing.T) {
	db := testutil.NewDB(t)

	session, _ := Acquire(db, "dispatch", "api", DefaultHeartbeatTimeout)
	if err := Release(db, session.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := Release(db, session.ID); err == nil {
		t.Error("expected error releasing twice")
	}
	if _, err := Acquire(db, "retry", "api", DefaultHeartbeatTimeout); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	db := testutil.NewDB(t)

	session, _ := Acquire(db, "dispatch", "api", DefaultHeartbeatTimeout)
	before := session.LastHeartbeat
	time.Sleep(5 * time.Millisecond)
	if err := Heartbeat(db, session.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	var got models.PassSession
	db.First(&got, session.ID)
	if !got.LastHeartbeat.After(before) {
		t.Errorf("LastHeartbeat not advanced: %s <= %s", got.LastHeartbeat, before)
	}

	if err := Heartbeat(db, 999); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestStartHeartbeat_Stops(t *testing.T) {
	db := testutil.NewDB(t)
	session, _ := Acquire(db, "dispatch", "api", DefaultHeartbeatTimeout)

	stop := StartHeartbeat(context.Background(), db, session.ID, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()
}

func TestActive(t *testing.T) {
	db := testutil.NewDB(t)

	if _, ok, err := Active(db); err != nil || ok {
		t.Fatalf("Active on empty db = %v, %v", ok, err)
	}
	session, _ := Acquire(db, "retry", "cli", DefaultHeartbeatTimeout)
	got, ok, err := Active(db)
	if err != nil || !ok {
		t.Fatalf("Active = %v, %v", ok, err)
	}
	if got.ID != session.ID {
		t.Errorf("Active ID = %d, want %d", got.ID, session.ID)
	}
}
