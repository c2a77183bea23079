package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_DecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "join", msg: Join{ClientID: "alice"}},
		{name: "joined", msg: Joined{ClientID: "alice"}},
		{name: "error", msg: Error{Message: ReasonLobbyFull}},
		{name: "lobby update", msg: LobbyUpdate{Clients: []string{"a", "b", "c"}}},
		{name: "empty lobby update", msg: LobbyUpdate{Clients: []string{}}},
		{name: "start level", msg: StartLevel{Level: 4}},
		{name: "level started", msg: LevelStarted{
			Level:       2,
			PlayerCount: 3,
			Mobs: []Mob{
				{Name: "Mob_L2_1", HP: 28, Attack: 7, Defense: 3, CrystalDrop: 1},
				{Name: "Mob_L2_2", HP: 28, Attack: 7, Defense: 3, CrystalDrop: 1},
			},
		}},
		{name: "leave", msg: Leave{}},
		{name: "unknown", msg: Unknown{Kind: "chat"}},
		{name: "id with newline", msg: Join{ClientID: "evil\nname"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.msg)
			require.NoError(t, err)

			require.True(t, bytes.HasSuffix(data, []byte("\n")))
			assert.Equal(t, 1, bytes.Count(data, []byte("\n")), "frame must be a single line")

			got, rest := Decode(data)
			require.NotNil(t, got)
			assert.Empty(t, rest)
			assert.Equal(t, tc.msg, got)
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(Join{ClientID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join","client_id":"a"}`, string(data))

	data, err = Encode(Leave{})
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"leave\"}\n", string(data))

	data, err = Encode(LobbyUpdate{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"lobby_update","clients":[]}`, string(data))

	data, err = Encode(LevelStarted{Level: 1, PlayerCount: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"level_started","level":1,"player_count":1,"mobs":[]}`, string(data))
}

func TestEncode_NilMessage(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		want    Message
		wantErr error
	}{
		{name: "join", line: `{"type":"join","client_id":"a"}`, want: Join{ClientID: "a"}},
		{name: "trailing carriage return", line: "{\"type\":\"leave\"}\r", want: Leave{}},
		{name: "missing client id", line: `{"type":"join"}`, want: Join{}},
		{name: "start level without level", line: `{"type":"start_level"}`, want: StartLevel{}},
		{name: "unknown type", line: `{"type":"ping","ts":1}`, want: Unknown{Kind: "ping"}},
		{name: "blank", line: "   ", wantErr: ErrEmptyFrame},
		{name: "not json", line: "hello there", wantErr: ErrMalformedFrame},
		{name: "json array", line: `[1,2,3]`, wantErr: ErrMalformedFrame},
		{name: "non-string type", line: `{"type":7}`, wantErr: ErrMalformedFrame},
		{name: "wrong field type", line: `{"type":"join","client_id":42}`, wantErr: ErrMalformedFrame},
		{name: "truncated", line: `{"type":"join","client_`, wantErr: ErrMalformedFrame},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.line))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_PartialLineIsRetained(t *testing.T) {
	buf := []byte(`{"type":"join","client_id":"a"}` + "\n" + `{"type":"sta`)

	m, rest := Decode(buf)
	assert.Equal(t, Join{ClientID: "a"}, m)
	assert.Equal(t, `{"type":"sta`, string(rest))

	m, rest = Decode(rest)
	assert.Nil(t, m)
	assert.Equal(t, `{"type":"sta`, string(rest))

	rest = append(rest, []byte(`rt_level","level":2}`+"\n")...)
	m, rest = Decode(rest)
	assert.Equal(t, StartLevel{Level: 2}, m)
	assert.Empty(t, rest)
}

func TestDecode_SkipsMalformedLines(t *testing.T) {
	buf := []byte("garbage\n\n   \n{\"type\":\"leave\"}\n")

	m, rest := Decode(buf)
	assert.Equal(t, Leave{}, m)
	assert.Empty(t, rest)
}

func TestReader_SkipsAndReportsBadLines(t *testing.T) {
	input := strings.Join([]string{
		"not json",
		"",
		`{"type":"join","client_id":"a"}`,
		`{"type":"start_level","level":3}`,
	}, "\n") + "\n"

	r := NewReader(strings.NewReader(input))
	var skipped []string
	r.OnSkip = func(line []byte, err error) {
		assert.ErrorIs(t, err, ErrMalformedFrame)
		skipped = append(skipped, string(line))
	}

	m, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, Join{ClientID: "a"}, m)

	m, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, StartLevel{Level: 3}, m)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"not json"}, skipped)
}

func TestReader_LineTooLong(t *testing.T) {
	long := `{"type":"join","client_id":"` + strings.Repeat("x", MaxFrameSize) + `"}` + "\n"
	r := NewReader(strings.NewReader(long))

	_, err := r.Read()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
