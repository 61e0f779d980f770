package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadCSV 读取带表头的 K 线 CSV：
//   - 必须包含 timestamp（或 date[+time]）与 open/high/low/close；
//   - volume 可选；
//   - 其余数值列一律进入 Bar.Scores（例如 score_1m、score_5m）。
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()
	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return bars, nil
}

// ReadCSV 从任意 reader 解析 K 线。
func ReadCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(h))
	}
	idx := func(name string) int {
		for i, c := range cols {
			if c == name {
				return i
			}
		}
		return -1
	}
	tsCol, dateCol, timeCol := idx("timestamp"), idx("date"), idx("time")
	if tsCol < 0 && dateCol < 0 {
		return nil, fmt.Errorf("缺少 timestamp/date 列")
	}
	openCol, highCol, lowCol, closeCol := idx("open"), idx("high"), idx("low"), idx("close")
	if openCol < 0 || highCol < 0 || lowCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("缺少 open/high/low/close 列")
	}
	volCol := idx("volume")

	known := map[int]bool{tsCol: true, dateCol: true, timeCol: true,
		openCol: true, highCol: true, lowCol: true, closeCol: true, volCol: true}

	var bars []Bar
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		get := func(i int) string {
			if i < 0 || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		ts := get(tsCol)
		if ts == "" {
			if t := get(timeCol); t != "" {
				ts = get(dateCol) + " " + t
			} else {
				ts = get(dateCol)
			}
		}
		bar := Bar{Timestamp: ts}
		if bar.Open, err = parsePrice(get(openCol)); err != nil {
			return nil, fmt.Errorf("第 %d 行 open: %w", line, err)
		}
		if bar.High, err = parsePrice(get(highCol)); err != nil {
			return nil, fmt.Errorf("第 %d 行 high: %w", line, err)
		}
		if bar.Low, err = parsePrice(get(lowCol)); err != nil {
			return nil, fmt.Errorf("第 %d 行 low: %w", line, err)
		}
		if bar.Close, err = parsePrice(get(closeCol)); err != nil {
			return nil, fmt.Errorf("第 %d 行 close: %w", line, err)
		}
		if v := get(volCol); v != "" {
			bar.Volume, _ = strconv.ParseFloat(v, 64)
		}
		for i, c := range cols {
			if known[i] || c == "" {
				continue
			}
			raw := get(i)
			if raw == "" {
				continue
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				if bar.Scores == nil {
					bar.Scores = make(map[string]float64)
				}
				bar.Scores[c] = v
			}
		}
		bars = append(bars, bar)
	}
	SortBars(bars)
	return bars, nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("空值")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// SortBars 按时间升序稳定排序。每根 bar 只解析一次时间戳并归一化为
// 定宽字符串键，解析失败则退回原始字符串，保证脏数据下仍是全序。
func SortBars(bars []Bar) {
	keys := make([]string, len(bars))
	for i, b := range bars {
		if ts, err := ParseTimestamp(b.Timestamp); err == nil {
			keys[i] = ts.Format("2006-01-02 15:04:05.000000000")
		} else {
			keys[i] = b.Timestamp
		}
	}
	sort.Stable(&barSorter{bars: bars, keys: keys})
}

type barSorter struct {
	bars []Bar
	keys []string
}

func (s *barSorter) Len() int           { return len(s.bars) }
func (s *barSorter) Less(i, j int) bool { return s.keys[i] < s.keys[j] }
func (s *barSorter) Swap(i, j int) {
	s.bars[i], s.bars[j] = s.bars[j], s.bars[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
