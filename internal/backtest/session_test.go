package backtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

func sessionBar(ts string) market.Bar {
	return market.Bar{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100}
}

func TestDetectEarlyCloses(t *testing.T) {
	normalClose, err := market.HHMM("16:00")
	require.NoError(t, err)

	bars := []market.Bar{
		// 05/01 普通交易日，收尾 17:30
		sessionBar("05/01/2024 09:30:00"),
		sessionBar("05/01/2024 17:30:00"),
		// 08/01 假日早收盘，收尾 13:00
		sessionBar("08/01/2024 09:30:00"),
		sessionBar("08/01/2024 13:00:00"),
		// 09/01 最后一根恰好在正常收盘时刻，同样按早收盘处理
		sessionBar("09/01/2024 16:00:00"),
	}
	out := detectEarlyCloses(bars, normalClose)
	assert.NotContains(t, out, "2024-01-05")
	assert.Equal(t, 13*60, out["2024-01-08"])
	assert.Equal(t, 16*60, out["2024-01-09"])
}

func TestCalendarHaltWindow(t *testing.T) {
	cal, err := newCalendar(DefaultSessionConfig(), nil)
	require.NoError(t, err)

	cases := []struct {
		ts   string
		halt bool
	}{
		{"05/01/2024 15:39:00", false},
		{"05/01/2024 15:40:00", true},
		{"05/01/2024 16:59:00", true},
		{"05/01/2024 17:00:00", false},
		{"05/01/2024 10:00:00", false},
	}
	for _, c := range cases {
		clock := market.ClockOf(sessionBar(c.ts))
		assert.Equal(t, c.halt, cal.inHalt(clock), c.ts)
	}

	// 无法解析的时间戳不停牌
	assert.False(t, cal.inHalt(market.ClockOf(market.Bar{Timestamp: "???"})))
}

func TestCalendarEarlyCloseDay(t *testing.T) {
	// 当日最后一根 bar 在 13:00，属于早收盘日
	var bars []market.Bar
	for i := 0; i <= 210; i += 30 {
		bars = append(bars, sessionBar(fmt.Sprintf("08/01/2024 %02d:%02d:00", 9+i/60, i%60)))
	}
	bars = append(bars, sessionBar("08/01/2024 13:00:00"))
	cal, err := newCalendar(DefaultSessionConfig(), bars)
	require.NoError(t, err)

	// 收盘前 15 分钟禁入
	assert.False(t, cal.inHalt(market.ClockOf(sessionBar("08/01/2024 12:44:00"))))
	assert.True(t, cal.inHalt(market.ClockOf(sessionBar("08/01/2024 12:45:00"))))

	// 到达收尾时刻触发强平
	assert.False(t, cal.forceEarlyClose(market.ClockOf(sessionBar("08/01/2024 12:59:00"))))
	assert.True(t, cal.forceEarlyClose(market.ClockOf(sessionBar("08/01/2024 13:00:00"))))

	// 其它日期不受影响
	assert.False(t, cal.forceEarlyClose(market.ClockOf(sessionBar("09/01/2024 13:00:00"))))
}

func TestCalendarRejectsBadConfig(t *testing.T) {
	_, err := newCalendar(SessionConfig{HaltStart: "bogus", HaltEnd: "17:00", NormalClose: "16:00"}, nil)
	assert.Error(t, err)

	_, err = newCalendar(SessionConfig{HaltStart: "15:40", HaltEnd: "17:00", NormalClose: "24:30"}, nil)
	assert.Error(t, err)
}
