package mcclient

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-mcprotocol/mc"
)

func TestNewClientNilConfig(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	require.ErrorIs(t, err, ErrConnConfigNil)
}

func TestClient_ReadWord(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.setWord(mc.AreaD, 100, 0x1234)
	plc.setWord(mc.AreaD, 101, 0xFFFE)

	client := newTestClient(t, plc)

	var connectErr error
	connected := make(chan struct{})
	require.NoError(client.Open(func(err error) {
		connectErr = err
		close(connected)
	}))
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		require.FailNow("connect callback not called")
	}
	require.NoError(connectErr)
	require.Equal(ConnectedState, client.State())

	client.AddItems([]string{"D100", "D101", "D100,2"})
	res := readSync(t, client)
	require.False(res.anyBad)
	require.Equal(int16(4660), res.values["D100"])
	require.Equal(int16(-2), res.values["D101"])
	require.Equal([]int16{4660, -2}, res.values["D100,2"])

	item, ok := client.FindItem("D100")
	require.True(ok)
	require.Equal(int16(4660), item.Value)
	require.Equal(mc.QualityOK, item.Quality)
	require.Equal("D100", item.Addr)

	_, ok = client.FindItem("D999")
	require.False(ok)

	commErr, ok := client.FindItem(CommErrAlias)
	require.True(ok)
	require.Equal(false, commErr.Value)

	// merged into a single request
	reqs := plc.requests()
	require.Len(reqs, 1)
	require.Equal(mc.CommandRead, reqs[0].Command)
	require.Equal(mc.AreaD, reqs[0].Area)
	require.Equal(uint32(100), reqs[0].Offset)
	require.Equal(2, reqs[0].Count)
	require.Equal(mc.DefaultMonitoringTime, reqs[0].MonitoringTime)

	metrics := client.GetMetrics()
	require.Equal(uint64(1), metrics.ReadCycleCount.Load())
	require.Equal(uint64(1), metrics.PacketSendCount.Load())
	require.Equal(uint64(1), metrics.PacketRecvCount.Load())
}

func TestClient_ReadBits(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	// X10 in octal is point 8
	for i := 8; i < 28; i += 3 {
		plc.setBit(mc.AreaX, i, true)
	}
	plc.setBit(mc.AreaM, 5, true)

	client := newTestClient(t, plc)
	openAndWait(t, client)

	client.AddItems([]string{"X10,20", "M5", "M6"})
	res := readSync(t, client)
	require.False(res.anyBad)

	bits, ok := res.values["X10,20"].([]bool)
	require.True(ok)
	require.Len(bits, 20)
	for i, v := range bits {
		require.Equal(i%3 == 0, v, "bit %d", i)
	}
	require.Equal(true, res.values["M5"])
	require.Equal(false, res.values["M6"])
}

func TestClient_WriteThenRead(t *testing.T) {
	require := require.New(t)

	for _, ascii := range []bool{false, true} {
		name := "binary"
		if ascii {
			name = "ascii"
		}
		t.Run(name, func(t *testing.T) {
			plc := newFakePLC(t, ascii)
			client := newTestClient(t, plc)
			openAndWait(t, client)

			aliases := []string{"M0", "M3,4", "D10", "DFLOAT20", "DDINT30", "DSTR40,6", "CN210", "R5,3"}
			values := []any{
				true,
				[]bool{true, false, true, true},
				int16(-5),
				float32(1.5),
				int32(70000),
				"MC1E",
				int32(123456),
				[]int16{1, 2, 3},
			}
			require.False(writeSync(t, client, aliases, values))

			require.True(plc.bit(mc.AreaM, 0))
			require.True(plc.bit(mc.AreaM, 3))
			require.False(plc.bit(mc.AreaM, 4))
			require.True(plc.bit(mc.AreaM, 6))

			client.AddItems(aliases)
			res := readSync(t, client)
			require.False(res.anyBad)
			require.Equal(true, res.values["M0"])
			require.Equal([]bool{true, false, true, true}, res.values["M3,4"])
			require.Equal(int16(-5), res.values["D10"])
			require.Equal(float32(1.5), res.values["DFLOAT20"])
			require.Equal(int32(70000), res.values["DDINT30"])
			require.Equal("MC1E", res.values["DSTR40,6"])
			require.Equal(int32(123456), res.values["CN210"])
			require.Equal([]int16{1, 2, 3}, res.values["R5,3"])

			metrics := client.GetMetrics()
			require.Equal(uint64(1), metrics.WriteCycleCount.Load())
			require.Zero(metrics.BadQualityCount.Load())
		})
	}
}

func TestClient_ASCIIFrames(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, true)
	plc.setWord(mc.AreaD, 100, 0x1234)

	client := newTestClient(t, plc)
	openAndWait(t, client)

	client.AddItems([]string{"D100"})
	res := readSync(t, client)
	require.False(res.anyBad)
	require.Equal(int16(4660), res.values["D100"])

	reqs := plc.requests()
	require.Len(reqs, 1)
	require.Equal(uint32(100), reqs[0].Offset)
	require.Equal(mc.AreaD, reqs[0].Area)
}

func TestClient_ToggleASCII(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.setWord(mc.AreaD, 0, 7)

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	require.Equal(int16(7), readSync(t, client).values["D0"])

	// the fake PLC only speaks binary, so an ASCII frame fails to parse and drops the socket
	client.SetASCII(true)
	res := readSync(t, client)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])

	// the socket is gone: the next cycle fails fast and reconnects
	client.SetASCII(false)
	require.True(readSync(t, client).anyBad)
	waitConnected(t, client)
	require.False(readSync(t, client).anyBad)
}

func TestClient_NeverResponding(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.silent.Store(true)

	client := newTestClient(t, plc, WithTimeout(100*time.Millisecond))
	openAndWait(t, client)

	client.AddItems([]string{"D0", "M0", "D0,100"})

	begin := time.Now()
	res := readSync(t, client)
	// D0,100 needs two requests; every request waits for its own timeout
	require.Less(time.Since(begin), 2*time.Second)

	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])
	require.Equal(mc.QualityBad, res.values["M0"])
	qualities, ok := res.values["D0,100"].([]mc.Quality)
	require.True(ok)
	require.Len(qualities, 100)
	for _, q := range qualities {
		require.Equal(mc.QualityBad, q)
	}

	item, ok := client.FindItem("D0")
	require.True(ok)
	require.Equal(mc.QualityBad, item.Quality)
	require.Equal(int16(0), item.Value)

	metrics := client.GetMetrics()
	require.GreaterOrEqual(metrics.PacketTimeoutCount.Load(), uint64(2))
	require.Equal(uint64(3), metrics.BadQualityCount.Load())
}

func TestClient_ErrorReply(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.endCode.Store(uint32(mc.EndCodeAbnormal))

	client := newTestClient(t, plc)
	openAndWait(t, client)

	client.AddItems([]string{"D0", "M0"})
	res := readSync(t, client)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])
	require.Equal(mc.QualityBad, res.values["M0"])

	// protocol errors stay local to the request
	require.Equal(ConnectedState, client.State())

	plc.endCode.Store(0)
	require.False(readSync(t, client).anyBad)
}

func TestClient_OverlongReply(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	reply := []byte{0x81, 0x00, 0x34, 0x12, 0xAA, 0xBB}
	plc.rawReply.Store(&reply)

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D100"})

	res := readSync(t, client)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D100"])

	item, ok := client.FindItem("D100")
	require.True(ok)
	require.Equal(mc.QualityBad, item.Quality)

	// a length mismatch is a protocol error local to the request
	require.Equal(ConnectedState, client.State())
	require.Zero(client.GetMetrics().PacketTimeoutCount.Load())

	plc.rawReply.Store(nil)
	plc.setWord(mc.AreaD, 100, 0x1234)
	res = readSync(t, client)
	require.False(res.anyBad)
	require.Equal(int16(4660), res.values["D100"])
}

func TestClient_PeerCloseDuringRead(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.silent.Store(true)

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	var resetsAtCallback uint64
	ch := make(chan readResult, 1)
	require.NoError(client.ReadAllItems(func(anyBad bool, values map[string]any) {
		resetsAtCallback = client.GetMetrics().ResetCount.Load()
		ch <- readResult{anyBad, values}
	}))
	require.Eventually(func() bool { return len(plc.requests()) == 1 }, time.Second, 5*time.Millisecond)

	plc.dropConnections()

	res := waitRead(t, ch)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])
	// the reset waits for the in-flight read to deliver its callback
	require.Zero(resetsAtCallback)

	require.Eventually(func() bool {
		return client.GetMetrics().ResetCount.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(IdleState, client.State())

	plc.silent.Store(false)
	require.True(readSync(t, client).anyBad)
	waitConnected(t, client)
	require.False(readSync(t, client).anyBad)
	require.Equal(uint64(1), client.GetMetrics().ResetCount.Load())
}

func TestClient_TranscodingErrorResets(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, true)
	reply := []byte("8Z00")
	plc.rawReply.Store(&reply)

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	res := readSync(t, client)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])
	require.Eventually(func() bool {
		return client.GetMetrics().ResetCount.Load() == 1
	}, time.Second, 5*time.Millisecond)

	plc.rawReply.Store(nil)
	require.True(readSync(t, client).anyBad)
	waitConnected(t, client)
	require.False(readSync(t, client).anyBad)
}

func TestClient_DeferredRead(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.delay.Store(int64(50 * time.Millisecond))

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0", "R0"})

	var mu sync.Mutex
	var order []string
	first := make(chan readResult, 1)
	second := make(chan readResult, 1)

	require.NoError(client.ReadAllItems(func(anyBad bool, values map[string]any) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		first <- readResult{anyBad, values}
	}))
	require.NoError(client.ReadAllItems(func(anyBad bool, values map[string]any) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		second <- readResult{anyBad, values}
	}))

	require.False(waitRead(t, first).anyBad)
	require.False(waitRead(t, second).anyBad)

	mu.Lock()
	require.Equal([]string{"first", "second"}, order)
	mu.Unlock()

	// two packets per cycle, never interleaved
	reqs := plc.requests()
	require.Len(reqs, 4)
	require.Equal([]mc.Area{mc.AreaD, mc.AreaR, mc.AreaD, mc.AreaR},
		[]mc.Area{reqs[0].Area, reqs[1].Area, reqs[2].Area, reqs[3].Area})
}

func TestClient_WriteQueuedBehindRead(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.delay.Store(int64(50 * time.Millisecond))

	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	var mu sync.Mutex
	var order []string
	readCh := make(chan readResult, 1)
	writeCh := make(chan bool, 1)

	require.NoError(client.ReadAllItems(func(anyBad bool, values map[string]any) {
		mu.Lock()
		order = append(order, "read")
		mu.Unlock()
		readCh <- readResult{anyBad, values}
	}))
	// make sure the read cycle is active before the write arrives
	require.Eventually(func() bool { return len(plc.requests()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(client.WriteItem("D0", int16(42), func(anyBad bool) {
		mu.Lock()
		order = append(order, "write")
		mu.Unlock()
		writeCh <- anyBad
	}))
	require.ErrorIs(client.WriteItem("D1", 1, nil), ErrWriteInProgress)

	res := waitRead(t, readCh)
	require.False(res.anyBad)
	require.Equal(int16(0), res.values["D0"])
	require.False(waitWrite(t, writeCh))

	mu.Lock()
	require.Equal([]string{"read", "write"}, order)
	mu.Unlock()

	require.Equal(int16(42), readSync(t, client).values["D0"])

	// a new write is accepted once the previous one completed
	require.False(writeSync(t, client, []string{"D1"}, []any{1}))
}

func TestClient_WriteErrors(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	client := newTestClient(t, plc)

	require.ErrorIs(client.WriteItem("D0", 1, nil), ErrNotOpened)
	require.ErrorIs(client.ReadAllItems(nil), ErrNotOpened)

	openAndWait(t, client)

	err := client.WriteItems([]string{"D0", "D1"}, []any{1}, nil)
	require.ErrorIs(err, mc.ErrInvalidWriteValue)

	// all addresses invalid: completes right away as bad
	require.True(writeSync(t, client, []string{"Q1", "D100.3"}, []any{1, true}))
	require.Empty(plc.requests())

	// one bad address doesn't stop the others
	require.True(writeSync(t, client, []string{"Q1", "D5"}, []any{1, int16(9)}))
	require.Len(plc.requests(), 1)

	// wrong value shape
	require.True(writeSync(t, client, []string{"D0,3"}, []any{[]int16{1}}))

	plc.endCode.Store(0x50)
	require.True(writeSync(t, client, []string{"D0"}, []any{1}))
}

func TestClient_EmptyReadSet(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	client := newTestClient(t, plc)
	openAndWait(t, client)

	res := readSync(t, client)
	require.False(res.anyBad)
	require.Empty(res.values)

	// invalid aliases are dropped
	client.AddItems([]string{"Q100", "CN195,10"})
	res = readSync(t, client)
	require.False(res.anyBad)
	require.Empty(res.values)
	require.Empty(plc.requests())
}

func TestClient_AddRemoveItems(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	client := newTestClient(t, plc)
	openAndWait(t, client)

	client.AddItems([]string{"D0", "D1", "M0"})
	client.AddItems([]string{"D0"})
	require.Len(readSync(t, client).values, 3)

	client.RemoveItems([]string{"D1"})
	res := readSync(t, client)
	require.Len(res.values, 2)
	require.NotContains(res.values, "D1")
	_, ok := client.FindItem("D1")
	require.False(ok)

	client.RemoveAllItems()
	require.Empty(readSync(t, client).values)
	_, ok = client.FindItem("D0")
	require.False(ok)
}

func TestClient_TranslationFunc(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.setWord(mc.AreaD, 200, 321)

	client := newTestClient(t, plc)
	openAndWait(t, client)

	tags := map[string]string{"speed": "D200", "running": "M10"}
	client.SetTranslationFunc(func(alias string) string {
		if addr, ok := tags[alias]; ok {
			return addr
		}

		return alias
	})
	client.AddItems([]string{"speed", "running"})

	res := readSync(t, client)
	require.False(res.anyBad)
	require.Equal(int16(321), res.values["speed"])
	require.Equal(false, res.values["running"])

	item, ok := client.FindItem("speed")
	require.True(ok)
	require.Equal("D200", item.Addr)

	require.False(writeSync(t, client, []string{"running"}, []any{true}))
	require.True(plc.bit(mc.AreaM, 10))

	// removal matches the translated address
	client.RemoveItems([]string{"running"})
	res = readSync(t, client)
	require.Len(res.values, 1)
	require.Contains(res.values, "speed")

	// dropping the translation reparses the read set; "speed" is no address
	client.SetTranslationFunc(nil)
	require.Empty(readSync(t, client).values)
}

func TestClient_OctalAndOptimization(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.setBit(mc.AreaX, 15, true)
	plc.setBit(mc.AreaX, 17, true)

	client := newTestClient(t, plc)
	openAndWait(t, client)

	client.AddItems([]string{"X17", "D0", "D2"})
	res := readSync(t, client)
	require.Equal(true, res.values["X17"])
	require.Len(plc.requests(), 2)

	client.SetOctalInputOutput(false)
	client.SetOptimization(false)
	res = readSync(t, client)
	require.Equal(true, res.values["X17"])
	// D0 and D2 are no longer merged
	require.Len(plc.requests(), 2+3)

	require.Error(client.UpdateConfigOptions(WithName("other")))
	require.Error(client.UpdateConfigOptions(WithMaxGap(-1)))
	require.NoError(client.UpdateConfigOptions(WithMaxGap(10), WithTimeout(time.Second)))
}

func TestClient_ReconnectAfterPeerClose(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.setWord(mc.AreaD, 0, 11)

	client := newTestClient(t, plc)

	var mu sync.Mutex
	var connectResults []error
	require.NoError(client.Open(func(err error) {
		mu.Lock()
		connectResults = append(connectResults, err)
		mu.Unlock()
	}))
	waitConnected(t, client)
	client.AddItems([]string{"D0"})
	require.False(readSync(t, client).anyBad)

	plc.dropConnections()

	require.Eventually(func() bool {
		item, _ := client.FindItem(CommErrAlias)
		return item.Value == true
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(func() bool {
		return client.GetMetrics().ResetCount.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// a cycle while idle fails right away and reconnects
	res := readSync(t, client)
	require.True(res.anyBad)
	waitConnected(t, client)

	res = readSync(t, client)
	require.False(res.anyBad)
	require.Equal(int16(11), res.values["D0"])
	require.Equal(int32(2), plc.accepted.Load())

	mu.Lock()
	require.Equal([]error{nil, nil}, connectResults)
	mu.Unlock()
	require.Zero(client.GetMetrics().ConnRetryGauge.Load())
}

func TestClient_DialFailure(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("127.0.0.1", 1,
		WithDialFunc(func(context.Context, string, string) (net.Conn, error) {
			return nil, errDialRefused
		}),
	)
	require.NoError(err)

	client, err := NewClient(context.Background(), cfg)
	require.NoError(err)
	defer client.Close()

	errCh := make(chan error, 4)
	require.NoError(client.Open(func(err error) { errCh <- err }))

	select {
	case err := <-errCh:
		require.ErrorIs(err, ErrTransport)
		require.ErrorIs(err, errDialRefused)
	case <-time.After(2 * time.Second):
		require.FailNow("connect callback not called")
	}
	require.Eventually(func() bool { return client.State() == IdleState }, time.Second, 5*time.Millisecond)

	client.AddItems([]string{"D0"})
	res := readSync(t, client)
	require.True(res.anyBad)
	require.Equal(mc.QualityBad, res.values["D0"])
	require.GreaterOrEqual(client.GetMetrics().ConnRetryGauge.Load(), uint32(1))
}

func TestClient_CloseCompletesPendingCycles(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	plc.silent.Store(true)

	client := newTestClient(t, plc, WithTimeout(10*time.Second))
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	readCh := make(chan readResult, 1)
	require.NoError(client.ReadAllItems(func(anyBad bool, values map[string]any) {
		readCh <- readResult{anyBad, values}
	}))
	require.Eventually(func() bool { return len(plc.requests()) == 1 }, time.Second, 5*time.Millisecond)

	writeCh := make(chan bool, 1)
	require.NoError(client.WriteItem("D1", 5, func(anyBad bool) { writeCh <- anyBad }))

	begin := time.Now()
	require.NoError(client.Close())
	require.Less(time.Since(begin), 2*time.Second)

	res := waitRead(t, readCh)
	require.True(res.anyBad)
	require.True(waitWrite(t, writeCh))

	require.ErrorIs(client.ReadAllItems(nil), ErrClientClosed)
	require.ErrorIs(client.WriteItem("D0", 1, nil), ErrClientClosed)
	require.ErrorIs(client.Open(nil), ErrClientClosed)
	require.NoError(client.Close())
	require.Equal(IdleState, client.State())
}

func TestClient_ContextCancel(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	cfg, err := NewConnectionConfig("127.0.0.1", plc.port())
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewClient(ctx, cfg)
	require.NoError(err)
	openAndWait(t, client)

	cancel()
	require.Eventually(func() bool { return client.State() == IdleState }, time.Second, 5*time.Millisecond)

	// reads requested after the loop stopped are refused
	require.Eventually(func() bool {
		return client.ReadAllItems(nil) != nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(client.Close())
}

func TestClient_CallbackPanic(t *testing.T) {
	require := require.New(t)

	plc := newFakePLC(t, false)
	client := newTestClient(t, plc)
	openAndWait(t, client)
	client.AddItems([]string{"D0"})

	require.NoError(client.ReadAllItems(func(bool, map[string]any) {
		panic("boom")
	}))

	// the loop survives and serves the next cycle
	require.False(readSync(t, client).anyBad)
}

func TestClient_StateHandler(t *testing.T) {
	plc := newFakePLC(t, false)
	client := newTestClient(t, plc)

	var mu sync.Mutex
	var states []string
	client.AddConnStateChangeHandler(func(_, cur ConnState) {
		mu.Lock()
		states = append(states, cur.String())
		mu.Unlock()
	})
	openAndWait(t, client)
	require.NoError(t, client.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "connecting,connected,idle", strings.Join(states, ","))
}
