package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clockpkg "nifty-options-engine/libs/testing"
)

func TestDecodeFullFeedFromFixture(t *testing.T) {
	frame := clockpkg.LoadFixture(t, "live_feed_full.json")

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, KindLiveFeed, msg.Kind)
	require.Len(t, msg.Ticks, 1)
	assert.Equal(t, 182.35, msg.Ticks[0].LTP)
	require.NotNil(t, msg.Ticks[0].OI)
	assert.Equal(t, int64(215000), *msg.Ticks[0].OI)
}

func TestDecodeLTPC(t *testing.T) {
	frame := []byte(`{"type":"live_feed","feeds":{"NSE_INDEX|Nifty 50":{"ltpc":{"ltp":24850.5,"ltq":75,"ltt":1700000000000,"vol":120}}}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, KindLiveFeed, msg.Kind)
	require.Len(t, msg.Ticks, 1)
	assert.Equal(t, 24850.5, msg.Ticks[0].LTP)
	assert.Equal(t, int64(75), msg.Ticks[0].LTQ)
}

func TestDecodeOIEquivalence(t *testing.T) {
	cases := []string{
		`{"type":"live_feed","feeds":{"K":{"fullFeed":{"ltpc":{"ltp":100},"oi":4500}}}}`,
		`{"type":"live_feed","feeds":{"K":{"fullFeed":{"ltpc":{"ltp":100},"open_interest":4500}}}}`,
		`{"type":"live_feed","feeds":{"K":{"fullFeed":{"ltpc":{"ltp":100},"ohlc":{"oi":4500}}}}}`,
	}
	for _, frame := range cases {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err)
		require.Len(t, msg.Ticks, 1)
		require.NotNil(t, msg.Ticks[0].OI)
		assert.Equal(t, int64(4500), *msg.Ticks[0].OI)
		// No timestamp on the wire: Decode stays pure and leaves the
		// zero time for the transport layer to stamp.
		assert.True(t, msg.Ticks[0].TS.IsZero())
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestDecodeUnknownFrameType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	require.Error(t, err)
}

func TestDecodeMarketInfo(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"market_info","marketInfo":{"status":"closing_soon"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindMarketInfo, msg.Kind)
	require.NotNil(t, msg.Status)
	assert.Equal(t, "closing_soon", msg.Status.Status)
}

func TestEncodeControlRoundTrip(t *testing.T) {
	msg := ControlMessage{GUID: "abc", Method: "sub", Data: ControlPayload{InstrumentKeys: []string{"K1", "K2"}, Mode: ModeFull}}
	b, err := EncodeControl(msg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `"method":"sub"`))
}

func TestReplayDecoderReadsSequentialFrames(t *testing.T) {
	data := strings.Join([]string{
		`{"type":"live_feed","feeds":{"K":{"ltpc":{"ltp":1}}}}`,
		`{"type":"live_feed","feeds":{"K":{"ltpc":{"ltp":2}}}}`,
	}, "\n")
	rd := NewReplayDecoder(strings.NewReader(data))

	m1, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.0, m1.Ticks[0].LTP)

	m2, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 2.0, m2.Ticks[0].LTP)

	_, err = rd.Next()
	require.Error(t, err)
}
