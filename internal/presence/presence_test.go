package presence

import "testing"

// Redis 미설정 시 nil 매니저가 그대로 핸들러에 주입되므로
// 모든 메서드는 nil 리시버에서 no-op 으로 동작해야 한다.
func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager

	if err := m.SetOnline(1, "alice", nil); err != nil {
		t.Fatalf("SetOnline on nil manager: %v", err)
	}
	if err := m.Refresh(1); err != nil {
		t.Fatalf("Refresh on nil manager: %v", err)
	}
	if err := m.SetOffline(1); err != nil {
		t.Fatalf("SetOffline on nil manager: %v", err)
	}
	if err := m.Ping(); err != nil {
		t.Fatalf("Ping on nil manager: %v", err)
	}

	online, err := m.GetMulti([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("GetMulti on nil manager: %v", err)
	}
	if len(online) != 0 {
		t.Fatalf("nil manager reported %d users online", len(online))
	}
}
