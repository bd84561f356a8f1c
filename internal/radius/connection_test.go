package radius

import (
	"testing"
	"time"
)

func testTrunkConfig() TrunkConfig {
	return TrunkConfig{
		Mode:                        ModeClient,
		ZombiePeriod:                time.Second,
		ReviveInterval:              2 * time.Second,
		ResponseWindow:              100 * time.Millisecond,
		MaxPacketSize:               4096,
		RequireMessageAuthenticator: RequireMANo,
		RetryFor:                    func(int) RetryConfig { return fastRetry() },
		TimeoutRetry:                fastRetry(),
	}
}

// TestConnection_ActiveWithoutStatusChecks covers the CONNECTING -> ACTIVE
// transition when status checks are disabled (§4.3).
func TestConnection_ActiveWithoutStatusChecks(t *testing.T) {
	sock := newFakeSocket()
	cfg := testTrunkConfig()
	trunk := NewTrunk(cfg, &fakeCodec{}, []Socket{sock}, nil, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)

	c := trunk.connections[0]
	if c.State() != ConnActive {
		t.Fatalf("state = %v, want ConnActive", c.State())
	}
}

// TestConnection_StatusCheckingThenActive covers CONNECTING ->
// STATUS_CHECKING -> ACTIVE after num_answers_to_alive good replies
// (§4.3, §4.4).
func TestConnection_StatusCheckingThenActive(t *testing.T) {
	sock := newFakeSocket()
	cfg := testTrunkConfig()
	cfg.StatusCheckCode = CodeStatusServer
	cfg.NumAnswersToAlive = 2
	trunk := NewTrunk(cfg, &fakeCodec{decodeCode: CodeAccessAccept}, []Socket{sock}, fakeAttrs{}, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)

	c := trunk.connections[0]
	if c.State() != ConnStatusChecking {
		t.Fatalf("state = %v, want ConnStatusChecking", c.State())
	}

	// First good probe reply: not enough yet (need 2 contiguous).
	w := sock.lastWrite()
	if w == nil {
		t.Fatal("expected a status-check probe to have been sent")
	}
	trunk.HandleReadable(c, replyDatagram(CodeAccessAccept, w[IDByteOffset]), now)
	if c.State() != ConnStatusChecking {
		t.Fatalf("state after 1st good reply = %v, want still ConnStatusChecking", c.State())
	}

	// Second contiguous good reply moves to ACTIVE.
	w = sock.lastWrite()
	trunk.HandleReadable(c, replyDatagram(CodeAccessAccept, w[IDByteOffset]), now)
	if c.State() != ConnActive {
		t.Fatalf("state after 2nd good reply = %v, want ConnActive", c.State())
	}
}

// TestConnection_ZombieAfterResponseWindow covers the ACTIVE -> ZOMBIE
// transition once response_window elapses with no reply since last_sent
// (§4.3, §4.7, §8 invariant "now - last_sent >= response_window").
func TestConnection_ZombieAfterResponseWindow(t *testing.T) {
	sock := newFakeSocket()
	cfg := testTrunkConfig()
	trunk := NewTrunk(cfg, &fakeCodec{}, []Socket{sock}, nil, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)
	c := trunk.connections[0]

	req := &ProtocolRequest{Code: CodeAccessRequest, RetryCfg: fastRetry(), doneCh: make(chan ResultCode, 1)}
	if _, err := trunk.Enqueue(req, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if sock.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", sock.writeCount())
	}

	// Before response_window elapses, still active.
	trunk.Tick(now.Add(50 * time.Millisecond))
	if c.State() != ConnActive {
		t.Fatalf("state before window elapsed = %v, want ConnActive", c.State())
	}

	// After response_window elapses with no reply, declared zombie.
	trunk.Tick(now.Add(200 * time.Millisecond))
	if c.State() != ConnZombie && c.State() != ConnDeadRevive {
		t.Fatalf("state after window elapsed = %v, want ConnZombie or ConnDeadRevive", c.State())
	}
}

// TestConnection_ReviveWithoutStatusChecks covers ZOMBIE -> DEAD_REVIVE ->
// (after revive_interval) CONNECTING -> ACTIVE, requeuing outstanding
// requests onto a sibling connection along the way (§4.3 scenario 5).
func TestConnection_ReviveWithoutStatusChecks(t *testing.T) {
	sock0 := newFakeSocket()
	sock1 := newFakeSocket()
	cfg := testTrunkConfig()
	cfg.ZombiePeriod = 10 * time.Millisecond
	cfg.ReviveInterval = 10 * time.Millisecond
	trunk := NewTrunk(cfg, &fakeCodec{}, []Socket{sock0, sock1}, nil, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)
	c0 := trunk.connections[0]
	c1 := trunk.connections[1]

	req := &ProtocolRequest{Code: CodeAccessRequest, RetryCfg: fastRetry(), doneCh: make(chan ResultCode, 1)}
	if _, err := trunk.Enqueue(req, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Force the zombie transition directly, matching what Tick would
	// eventually do once response_window elapses.
	c0.transitionToZombie(now)
	if c0.State() != ConnZombie {
		t.Fatalf("state = %v, want ConnZombie", c0.State())
	}

	// zombie_period elapses: requeue onto c1, then DEAD_REVIVE.
	later := now.Add(cfg.ZombiePeriod + time.Millisecond)
	trunk.Tick(later)
	if c0.State() != ConnDeadRevive {
		t.Fatalf("state after zombie_period = %v, want ConnDeadRevive", c0.State())
	}
	if req.connIndex != c1.index {
		t.Fatalf("requeued request's connIndex = %d, want sibling %d", req.connIndex, c1.index)
	}

	// revive_interval elapses: reconnect attempt, back to ACTIVE (no
	// status checks configured).
	evenLater := later.Add(cfg.ReviveInterval + time.Millisecond)
	trunk.Tick(evenLater)
	if c0.State() != ConnActive {
		t.Fatalf("state after revive_interval = %v, want ConnActive", c0.State())
	}
}

// TestConnection_ProtocolErrorGrowsReceiveBuffer covers the Response-Length
// negotiation hint from a Protocol-Error reply (§4.4, §6, §8 scenario 6).
func TestConnection_ProtocolErrorGrowsReceiveBuffer(t *testing.T) {
	sock := newFakeSocket()
	attrs := fakeAttrs{
		attrErrorCause:     {0, 0, 2, 89},  // 601 big-endian
		attrResponseLength: {0, 0, 46, 224}, // 12000 big-endian
	}
	cfg := testTrunkConfig()
	cfg.MaxPacketSize = 4096
	codec := &fakeCodec{decodeCode: CodeProtocolError, decodeAttrs: attrs}
	trunk := NewTrunk(cfg, codec, []Socket{sock}, nil, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)
	c := trunk.connections[0]

	req := &ProtocolRequest{Code: CodeAccessRequest, RetryCfg: fastRetry(), doneCh: make(chan ResultCode, 1)}
	if _, err := trunk.Enqueue(req, now); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	w := sock.lastWrite()
	trunk.HandleReadable(c, replyDatagram(CodeProtocolError, w[IDByteOffset]), now)

	if len(c.recvBuf) != 12000 {
		t.Fatalf("recv buffer size = %d, want 12000", len(c.recvBuf))
	}
	select {
	case result := <-req.doneCh:
		if result != ResultHandled {
			t.Fatalf("result = %v, want ResultHandled", result)
		}
	default:
		t.Fatal("expected request to be resumed")
	}
}

// TestTrunk_HandleReadable_ResultMapping covers the §4.5 response->result
// table: Access-Challenge is always UPDATED regardless of retry history,
// the accept-like codes are always OK, the reject-like codes are always
// REJECT, and any unrecognized code falls through to FAIL.
func TestTrunk_HandleReadable_ResultMapping(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		isRetry bool
		want    ResultCode
	}{
		{"challenge-first-try", CodeAccessChallenge, false, ResultUpdated},
		{"challenge-after-retry", CodeAccessChallenge, true, ResultUpdated},
		{"accept-first-try", CodeAccessAccept, false, ResultOK},
		{"accept-after-retry", CodeAccessAccept, true, ResultOK},
		{"reject", CodeAccessReject, false, ResultReject},
		{"coa-nak", CodeCoANAK, false, ResultReject},
		{"disconnect-ack", CodeDisconnectACK, false, ResultOK},
		{"unrecognized-code", 99, false, ResultFail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sock := newFakeSocket()
			cfg := testTrunkConfig()
			codec := &fakeCodec{}
			trunk := NewTrunk(cfg, codec, []Socket{sock}, nil, discardLogger())

			now := time.Unix(0, 0)
			trunk.StartAll(now)
			c := trunk.connections[0]

			req := &ProtocolRequest{Code: CodeAccessRequest, RetryCfg: fastRetry(), doneCh: make(chan ResultCode, 1)}
			if _, err := trunk.Enqueue(req, now); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			w := sock.lastWrite()
			req.isRetry = tc.isRetry
			codec.decodeCode = tc.code

			trunk.HandleReadable(c, replyDatagram(tc.code, w[IDByteOffset]), now)

			select {
			case got := <-req.doneCh:
				if got != tc.want {
					t.Fatalf("result = %v, want %v", got, tc.want)
				}
			default:
				t.Fatal("expected request to be resumed")
			}
		})
	}
}

// TestTrunk_StatusProbeTimeoutReleasesPriorID covers §4.4: a status-check
// probe's id must be released when the next probe is prepared, or a
// connection with status checks enabled and an unresponsive peer leaks
// one id per timed-out probe until the tracker saturates.
func TestTrunk_StatusProbeTimeoutReleasesPriorID(t *testing.T) {
	sock := newFakeSocket()
	cfg := testTrunkConfig()
	cfg.StatusCheckCode = CodeStatusServer
	cfg.NumAnswersToAlive = 1
	trunk := NewTrunk(cfg, &fakeCodec{}, []Socket{sock}, fakeAttrs{}, discardLogger())

	now := time.Unix(0, 0)
	trunk.StartAll(now)
	c := trunk.connections[0]

	if c.ids.Count() != 1 {
		t.Fatalf("ids in use after first probe = %d, want 1", c.ids.Count())
	}

	// Simulate the probe's retry schedule expiring with no reply: the
	// timeout handler resets the streak and a fresh probe is sent,
	// reusing the id slot rather than leaking it.
	later := now.Add(time.Hour)
	trunk.tickRetries(c, later)

	if c.ids.Count() != 1 {
		t.Fatalf("ids in use after timed-out probe = %d, want 1 (prior id must be released)", c.ids.Count())
	}
}
