package capacity

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignservice/internal/models"
)

func TestCalculate(t *testing.T) {
	t.Run("default cost of one", func(t *testing.T) {
		res := Calculate([]models.Channel{models.ChannelEmail}, Allowance{models.ChannelEmail: 5}, Cost{})
		assert.Equal(t, 5, res.Limit)
		assert.False(t, res.Unlimited)
	})

	t.Run("zero allowance", func(t *testing.T) {
		assert.Equal(t, 0, UserCap(models.ChannelEmail, Allowance{models.ChannelEmail: 0}))
	})

	t.Run("missing channel counts as zero", func(t *testing.T) {
		assert.Equal(t, 0, UserCap(models.ChannelSMS, Allowance{models.ChannelEmail: 9}))
	})

	t.Run("binding constraint with cost", func(t *testing.T) {
		res := Calculate(
			[]models.Channel{models.ChannelEmail, models.ChannelSMS},
			Allowance{models.ChannelEmail: 10, models.ChannelSMS: 7},
			Cost{models.ChannelSMS: 2},
		)
		assert.Equal(t, 10, res.PerChannel[models.ChannelEmail])
		assert.Equal(t, 3, res.PerChannel[models.ChannelSMS])
		assert.Equal(t, 3, res.Limit)
	})

	t.Run("no channels is unlimited", func(t *testing.T) {
		res := Calculate(nil, Allowance{}, nil)
		assert.True(t, res.Unlimited)
		assert.Equal(t, math.MaxInt, res.Limit)
	})
}

func TestParseAllowance(t *testing.T) {
	t.Run("flat lowercase", func(t *testing.T) {
		a, shape, err := ParseAllowance([]byte(`{"email": 5, "sms": 2}`))
		require.NoError(t, err)
		assert.Equal(t, ShapeFlat, shape)
		assert.Equal(t, 5, a[models.ChannelEmail])
		assert.Equal(t, 2, a[models.ChannelSMS])
		assert.Equal(t, 0, a[models.ChannelVoice])
	})

	t.Run("uppercase wins over lowercase", func(t *testing.T) {
		a, _, err := ParseAllowance([]byte(`{"sms": 2, "SMS": 9}`))
		require.NoError(t, err)
		assert.Equal(t, 9, a[models.ChannelSMS])
	})

	t.Run("daily bucket", func(t *testing.T) {
		a, shape, err := ParseAllowance([]byte(`{"daily": {"whatsapp": 4, "push": "n/a"}, "sms": 100}`))
		require.NoError(t, err)
		assert.Equal(t, ShapeDaily, shape)
		assert.Equal(t, 4, a[models.ChannelWhatsApp])
		assert.Equal(t, 0, a[models.ChannelPush])
		assert.Equal(t, 0, a[models.ChannelSMS])
	})

	t.Run("channel list", func(t *testing.T) {
		a, shape, err := ParseAllowance([]byte(`{"channels": [{"channel": "viber", "remaining": 3}]}`))
		require.NoError(t, err)
		assert.Equal(t, ShapeChannels, shape)
		assert.Equal(t, 3, a[models.ChannelViber])
	})

	t.Run("extra numeric keys kept", func(t *testing.T) {
		a, _, err := ParseAllowance([]byte(`{"RCS": 8, "note": "x"}`))
		require.NoError(t, err)
		assert.Equal(t, 8, a[models.Channel("RCS")])
		_, hasNote := a[models.Channel("NOTE")]
		assert.False(t, hasNote)
	})

	t.Run("empty body", func(t *testing.T) {
		a, shape, err := ParseAllowance(nil)
		require.NoError(t, err)
		assert.Equal(t, ShapeEmpty, shape)
		assert.Equal(t, 0, a[models.ChannelEmail])
	})

	t.Run("non-object rejected", func(t *testing.T) {
		_, _, err := ParseAllowance([]byte(`[1,2,3]`))
		assert.Error(t, err)
	})
}

func TestLedger(t *testing.T) {
	l := NewLedger()

	got, release := l.Reserve("b1", models.ChannelSMS, 5, 3)
	assert.Equal(t, 3, got)

	got2, release2 := l.Reserve("b1", models.ChannelSMS, 5, 3)
	assert.Equal(t, 2, got2)

	got3, _ := l.Reserve("b1", models.ChannelSMS, 5, 1)
	assert.Equal(t, 0, got3)

	other, _ := l.Reserve("b2", models.ChannelSMS, 5, 1)
	assert.Equal(t, 1, other)

	release()
	release()
	assert.Equal(t, 2, l.Reserved("b1", models.ChannelSMS))
	release2()
	assert.Equal(t, 0, l.Reserved("b1", models.ChannelSMS))
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := l.Reserve("b", models.ChannelEmail, 10, 1)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, total)
}
