// Package internal 實作 Kalah 雙人對戰的 WebSocket 中繼服務。
//
// 客戶端自行推導盤面，伺服器負責配對、保存最近一次提交的盤面、
// 把走步與終局轉發給對手。開啟 relay.verify_moves 時才以 kalah 套件重算走步。
//
// # 元件
//
//   - Registry：連接註冊表，每條連接有唯一 ID 與有界發送緩衝
//   - Matchmaker：單槽位配對隊列，第二個玩家到達即開局
//   - MatchStore：對局存儲，處理 CREATE/JOIN/MOVE/OVER/SYNC
//   - Relay：入站訊息解析與分派
//   - Heartbeat：Ping/Pong 存活探測
//   - Hub：組裝以上元件並處理 WebSocket 升級與斷線清理
//
// 可選的外部依賴（未配置時對應功能關閉）：
//
//   - PostgreSQL：排行榜（PostgresLeaderboard）
//   - Redis：對局盤面鏡像（RedisSnapshotter），進程重啟後 SYNC_GAME 仍可取回
//   - NATS：對局生命週期事件（NATSPublisher）
//
// # 協議
//
// 所有訊息都是帶 type 欄位的 JSON 文字幀，例如：
//
//	→ {"type":"FIND_MATCH","player":{"id":"p1","name":"Alice","avatar":"/assets/1.png"}}
//	← {"type":"WAITING"}
//	← {"type":"MATCH_FOUND","gameId":"game_...","role":"player1","opponent":{...}}
//	→ {"type":"GAME_MOVE","gameId":"game_...","move":2,"gameState":{...}}
//	← {"type":"OPPONENT_MOVE","move":2,"gameState":{...}}
//
// 無法解析的訊息只記錄日誌，不回覆也不斷線。
package internal
