// Package kalah 實作 Kalah（播棋）的盤面規則。
//
// 盤面固定 14 格：
//
//	索引 0-5   玩家 0 的小坑
//	索引 6     玩家 0 的計分坑（store）
//	索引 7-12  玩家 1 的小坑
//	索引 13    玩家 1 的計分坑
//
// 本套件只做純計算，不涉及任何 I/O；伺服器用它驗證客戶端提交的走步，
// 客戶端（或測試）用它推導下一個盤面。
package kalah

import (
	"errors"
	"fmt"
)

const (
	PitCount    = 14
	PitsPerSide = 6

	Store0 = 6
	Store1 = 13
)

var (
	ErrInvalidBoard  = errors.New("盤面格式不正確")
	ErrPitOutOfRange = errors.New("坑位超出範圍")
	ErrNotOwnPit     = errors.New("不是當前玩家的坑")
	ErrEmptyPit      = errors.New("坑內沒有種子")
)

// Player 盤面上的玩家顯示資訊，Score 鏡像對應的計分坑
type Player struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Avatar string `json:"avatar"`
}

// State 一局遊戲的完整盤面
type State struct {
	Pits          []int    `json:"pits"`
	CurrentPlayer int      `json:"currentPlayer"`
	Players       []Player `json:"players"`
}

// NewState 建立開局盤面，每個小坑放 seeds 顆種子
func NewState(seeds int, players [2]Player) State {
	pits := make([]int, PitCount)
	for i := range pits {
		if i != Store0 && i != Store1 {
			pits[i] = seeds
		}
	}

	s := State{
		Pits:          pits,
		CurrentPlayer: 0,
		Players:       []Player{players[0], players[1]},
	}
	s.mirrorScores()
	return s
}

// StoreOf 返回玩家的計分坑索引
func StoreOf(player int) int {
	if player == 0 {
		return Store0
	}
	return Store1
}

// Owner 返回小坑的所屬玩家；計分坑與越界索引返回 false
func Owner(pit int) (int, bool) {
	switch {
	case pit >= 0 && pit < Store0:
		return 0, true
	case pit > Store0 && pit < Store1:
		return 1, true
	default:
		return 0, false
	}
}

// Validate 檢查盤面結構
func (s State) Validate() error {
	if len(s.Pits) != PitCount {
		return fmt.Errorf("%w: 需要 %d 格，實際 %d 格", ErrInvalidBoard, PitCount, len(s.Pits))
	}
	if s.CurrentPlayer != 0 && s.CurrentPlayer != 1 {
		return fmt.Errorf("%w: currentPlayer=%d", ErrInvalidBoard, s.CurrentPlayer)
	}
	for i, n := range s.Pits {
		if n < 0 {
			return fmt.Errorf("%w: 坑 %d 為負數", ErrInvalidBoard, i)
		}
	}
	return nil
}

// Clone 深拷貝
func (s State) Clone() State {
	c := State{
		Pits:          make([]int, len(s.Pits)),
		CurrentPlayer: s.CurrentPlayer,
		Players:       make([]Player, len(s.Players)),
	}
	copy(c.Pits, s.Pits)
	copy(c.Players, s.Players)
	return c
}

// Total 盤面種子總數（任何合法走步都不會改變）
func (s State) Total() int {
	total := 0
	for _, n := range s.Pits {
		total += n
	}
	return total
}

// Apply 由當前玩家從 pit 播種，返回新盤面（原盤面不變）
//
// 規則：
//   - 取出 pit 內全部種子，逆時針逐格各放一顆
//   - 跳過對手的計分坑
//   - 最後一顆落在自己的計分坑：同一玩家再走一次，否則換手
//
// 沒有吃子規則。
func Apply(s State, pit int) (State, error) {
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	if pit < 0 || pit >= PitCount {
		return State{}, fmt.Errorf("%w: %d", ErrPitOutOfRange, pit)
	}
	owner, ok := Owner(pit)
	if !ok || owner != s.CurrentPlayer {
		return State{}, fmt.Errorf("%w: 坑 %d，當前玩家 %d", ErrNotOwnPit, pit, s.CurrentPlayer)
	}
	if s.Pits[pit] == 0 {
		return State{}, fmt.Errorf("%w: %d", ErrEmptyPit, pit)
	}

	next := s.Clone()
	mover := s.CurrentPlayer
	skip := StoreOf(1 - mover)

	seeds := next.Pits[pit]
	next.Pits[pit] = 0

	idx := pit
	for seeds > 0 {
		idx = (idx + 1) % PitCount
		if idx == skip {
			continue
		}
		next.Pits[idx]++
		seeds--
	}

	if idx != StoreOf(mover) {
		next.CurrentPlayer = 1 - mover
	}

	next.mirrorScores()
	return next, nil
}

// LegalMoves 返回當前玩家可走的坑位
func LegalMoves(s State) []int {
	start := 0
	if s.CurrentPlayer == 1 {
		start = Store0 + 1
	}

	moves := make([]int, 0, PitsPerSide)
	for i := start; i < start+PitsPerSide; i++ {
		if i < len(s.Pits) && s.Pits[i] > 0 {
			moves = append(moves, i)
		}
	}
	return moves
}

// IsOver 任一方六個小坑全空即結束
func IsOver(s State) bool {
	return sideSeeds(s, 0) == 0 || sideSeeds(s, 1) == 0
}

// Sweep 將雙方剩餘小坑的種子收進各自的計分坑
func Sweep(s State) State {
	next := s.Clone()
	for player := 0; player < 2; player++ {
		start := 0
		if player == 1 {
			start = Store0 + 1
		}
		for i := start; i < start+PitsPerSide; i++ {
			next.Pits[StoreOf(player)] += next.Pits[i]
			next.Pits[i] = 0
		}
	}
	next.mirrorScores()
	return next
}

// Winner 比較計分坑，返回勝者索引；平手返回 -1
func Winner(s State) int {
	switch {
	case s.Pits[Store0] > s.Pits[Store1]:
		return 0
	case s.Pits[Store1] > s.Pits[Store0]:
		return 1
	default:
		return -1
	}
}

// WinnerText 客戶端顯示用的結果文字
func WinnerText(s State) string {
	w := Winner(s)
	if w < 0 {
		return "It's a tie!"
	}
	name := fmt.Sprintf("Player %d", w+1)
	if w < len(s.Players) && s.Players[w].Name != "" {
		name = s.Players[w].Name
	}
	return name + " wins!"
}

// Reachable 判斷 next 能否由 prev 經一串額外回合走步、最後走 last 得到
//
// 客戶端獲得額外回合時不會逐步上報，只在換手（或終局）時送出最後一步
// 與累積後的盤面，所以驗證時必須展開同一玩家的連續走步。
// limit 限制搜尋的節點數，超過即視為不可達。
func Reachable(prev, next State, last int, limit int) bool {
	if prev.Validate() != nil || next.Validate() != nil {
		return false
	}

	visited := 0
	var search func(s State) bool
	search = func(s State) bool {
		for _, pit := range LegalMoves(s) {
			visited++
			if visited > limit {
				return false
			}

			after, err := Apply(s, pit)
			if err != nil {
				continue
			}
			if pit == last && samePosition(after, next) {
				return true
			}
			// 仍是同一玩家才繼續展開
			if after.CurrentPlayer == s.CurrentPlayer && !IsOver(after) && search(after) {
				return true
			}
		}
		return false
	}
	return search(prev)
}

func samePosition(a, b State) bool {
	if a.CurrentPlayer != b.CurrentPlayer || len(a.Pits) != len(b.Pits) {
		return false
	}
	for i := range a.Pits {
		if a.Pits[i] != b.Pits[i] {
			return false
		}
	}
	return true
}

func sideSeeds(s State, player int) int {
	start := 0
	if player == 1 {
		start = Store0 + 1
	}
	total := 0
	for i := start; i < start+PitsPerSide && i < len(s.Pits); i++ {
		total += s.Pits[i]
	}
	return total
}

func (s *State) mirrorScores() {
	for i := 0; i < len(s.Players) && i < 2; i++ {
		s.Players[i].Score = s.Pits[StoreOf(i)]
	}
}
