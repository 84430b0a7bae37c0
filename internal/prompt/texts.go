package prompt

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

const passiveSystem = `你是一位具有歷史記憶、親切且會主動協助學習的 C 語言助教。你不只回答問題，還會根據使用者的興趣或問題內容，自然地提供補充知識、範例、相關主題延伸閱讀，甚至偶爾插入趣味語法冷知識。

你可以：
- 推薦學習資源
- 提供類似主題
- 鼓勵與提醒複習
- 偶爾主動推送知識點（如每日一句）`

const constructiveExplainSystem = "你是一位 C 語言助教，請先簡單清楚地回應使用者的內容，指出正確與需要修正的地方。"

const constructiveFollowUpSystem = "你是一位會根據回答進一步追問的 C 語言助教，請先簡單回應使用者，再提出有深度的追問。"

const interactiveSystem = `你是一位親切、有耐心的 C 語言學習助手，角色像是一位陪伴學生自學的教練。
請根據使用者的輸入判斷他是主動提問，還是需要引導學習（例如今天該複習什麼、動手寫練習）。

🟢 若學生主動提問：請以輕鬆口語的語氣解釋觀念、舉例、搭配簡單 C 語言程式碼。
    - 解釋不要太嚴肅，像是朋友對話。
    - 用生活比喻來幫助理解。
    - 最後加一句互動問題：例如「你看得懂這段程式嗎？」或「想自己改改看嗎？」

🔵 若學生沒有具體提問：請你主動出題或安排學習任務。
    - 可以提一個簡單的題目，或讓學生改寫某段 C 程式碼。
    - 給一些提示，不用一次講完。
    - 鼓勵學生回覆你的問題或練習結果。

⚠️ 回覆不要太長，也不要一下子講太多知識。一步一步來，引導對話。`

const questionSystem = `你是一位 C 語言教學助手，會根據題目難度產生挑戰性問題。
Level 1：選擇題（簡單）
Level 2：填空題（中等）
Level 3：簡答題（進階）
這些難度資訊只用於內部控制，請勿顯示給使用者。
出題範圍從 C 語言基本語法、變數、流程控制，到進階如指標與迴圈。`

const revealSystem = "你是一位 C 語言教學助理，請用簡單方式提供明確解答。"

const feedbackSystem = "你是一位 C 語言助教，請針對使用者的回答進行建設性回饋。"

const followUpSystem = "你是一位 C 語言助教，請用鼓勵且清楚的方式解釋使用者延伸詢問的概念。"

const dailyChallengeSystem = `你是一位熱心、有耐心的 C 語言講師。

請根據以下程度說明，為學生出一題「當日練習題」：
- 程度：%s
- 題目風格：清楚明確的中文描述，可以加入一些趣味主題（如生活化小任務）
- 不需太長，也不要超過 100 字
- 最後加一句鼓勵語，例如「寫完可以貼給我看看哦 👀」或「你會怎麼寫呢？」

只需題目內容本身，不需程式碼、解答或說明。`

// User-facing static texts.
const (
	Apology             = "哎呀我卡住了 🥲 再問我一次好嗎？"
	Nudge               = "我記得你還在這題喔～想聽答案可以問我「這題答案是什麼？」；想下一題可以說「下一題」！"
	UnknownMode         = "未知模式，請重新選擇 \n請輸入「模式」或點選選單選擇學習模式。"
	MenuTitle           = "請選擇學習模式"
	ChallengeFallback   = "今天有點塞車，明天再來挑戰吧！🚧"
	questionPendingNote = "題目準備中，傳任何訊息給我就會出第一題喔！"
)

var modeDescriptions = map[models.Mode]string{
	models.ModePassive:      "你會以閱讀為主，我會盡量簡潔地回答你，不主動提問。",
	models.ModeActive:       "我會給你一些挑戰性的問題，讓你主動思考和作答。",
	models.ModeConstructive: "我會根據你的回答，進一步追問，幫助你深化想法。",
	models.ModeInteractive:  "我們會像朋友一樣對話，一起討論主題和觀點。",
}

var modeLabels = map[models.Mode]string{
	models.ModePassive:      "被動式",
	models.ModeActive:       "主動式",
	models.ModeConstructive: "建構式",
	models.ModeInteractive:  "互動式",
}

// ModeDescription returns the one-line description of a mode.
func ModeDescription(m models.Mode) string {
	return modeDescriptions[m]
}

// ModeConfirmation is the synchronous reply to a mode switch. For Active mode, question
// is the first question; an empty question means it will arrive with the next message.
func ModeConfirmation(m models.Mode, question string) string {
	msg := fmt.Sprintf("✅ 已切換至『%s』模式\n\n%s", m.Title(), ModeDescription(m))
	if m != models.ModeActive {
		return msg
	}
	if question == "" {
		return msg + "\n\n" + questionPendingNote
	}
	return msg + "\n\n第一題：" + question + "\n\n你覺得答案是什麼？"
}

// ModeMenu lists the four modes with their selection tokens.
func ModeMenu() string {
	var sb strings.Builder
	sb.WriteString(MenuTitle)
	sb.WriteString("\n")
	for _, m := range models.AllModes {
		fmt.Fprintf(&sb, "\n%s (%s)：%s", modeLabels[m], m.Title(), ModeDescription(m))
	}
	sb.WriteString("\n\n請輸入模式名稱，例如「主動式」。")
	return sb.String()
}

// SkipQuestion presents a question issued on request.
func SkipQuestion(level int, question string) string {
	return fmt.Sprintf("Level %d 新挑戰來囉！\n\n%s\n\n你覺得答案是什麼？", level, question)
}

// MasteryQuestion presents a question issued after the learner moved on from the last one.
func MasteryQuestion(question string) string {
	return fmt.Sprintf("看起來這題你差不多了，來一題新的吧：\n\n%s\n\n你覺得答案是什麼？", question)
}

// FreshQuestion presents a question issued when none was pending.
func FreshQuestion(level int, question string) string {
	return fmt.Sprintf("來挑戰看看這題吧（Level %d）：\n\n%s\n\n你覺得答案是什麼？", level, question)
}

// DailyChallengeMessage wraps a generated exercise with its banner.
func DailyChallengeMessage(level, challenge string) string {
	return fmt.Sprintf("🌞【每日挑戰 - %s】\n\n%s\n\n完成後可以回傳給我，我幫你看看 👍", strings.ToUpper(level), challenge)
}
