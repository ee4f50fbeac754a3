package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/dialogueflow/client"
	"github.com/BaSui01/dialogueflow/config"
	"github.com/BaSui01/dialogueflow/evaluator"
	"github.com/BaSui01/dialogueflow/internal/metrics"
	"github.com/BaSui01/dialogueflow/llm"
	"github.com/BaSui01/dialogueflow/transcript"
)

// State 编排器运行状态。
type State string

const (
	StateInit       State = "INIT"
	StateRunning    State = "ROUND_RUNNING"
	StateEvaluating State = "EVALUATING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Orchestrator 驱动多方对话：按声明顺序轮流调用各参与者后端，
// 逐轮原子持久化对话记录，结束后提交评估并落盘结果。
// 回合严格串行执行，同一时刻最多一个在途后端请求。
type Orchestrator struct {
	cfg   *config.Config
	order []string
	// clients 与 prompts 均按 order 对齐
	clients map[string]*client.BackendClient
	prompts map[string]string

	eval  *evaluator.Evaluator
	store *transcript.Store
	doc   *transcript.Document

	state     State
	collector *metrics.Collector
	logger    *zap.Logger
	closed    atomic.Bool
}

// New 按配置构造编排器：为每个参与者建独立客户端，
// 创建输出存储与评估器，初始化带运行 ID 的文档。
func New(cfg *config.Config, creds config.Credentials, logger *zap.Logger, collector *metrics.Collector) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "orchestrator"))

	o := &Orchestrator{
		cfg:       cfg,
		order:     cfg.Dialogue.Characters.Order,
		clients:   make(map[string]*client.BackendClient),
		prompts:   make(map[string]string),
		state:     StateInit,
		collector: collector,
		logger:    logger,
	}

	for _, id := range o.order {
		cli, err := client.New(cfg, id, creds, logger, collector)
		if err != nil {
			o.closeClients()
			return nil, fmt.Errorf("构造角色 %s 的客户端失败: %w", id, err)
		}
		o.clients[id] = cli

		ch, _ := cfg.Character(id)
		o.prompts[id] = renderSystemPrompt(ch, cfg.Discussion, cfg.ResponseRequirements)
	}

	now := time.Now()
	store, err := transcript.NewStore(cfg.Dialogue.Output.Directory, now, logger)
	if err != nil {
		o.closeClients()
		return nil, err
	}
	o.store = store

	eval, err := evaluator.New(cfg, creds, logger, collector)
	if err != nil {
		o.closeClients()
		return nil, err
	}
	o.eval = eval

	roster := make([]transcript.RosterEntry, 0, len(o.order))
	for _, id := range o.order {
		ch, _ := cfg.Character(id)
		roster = append(roster, transcript.RosterEntry{
			Name:        ch.Name,
			Description: characterDescription(ch, cfg.Discussion),
			Model:       ch.Model,
		})
	}

	o.doc = &transcript.Document{
		CreatedAt:  now,
		RunID:      uuid.NewString(),
		Topic:      cfg.Discussion.Topic,
		Background: cfg.Discussion.Background,
		Roster:     roster,
	}

	logger.Info("编排器就绪",
		zap.String("run_id", o.doc.RunID),
		zap.Int("participants", len(o.order)),
		zap.Int("rounds", cfg.Dialogue.Rounds),
		zap.String("output", store.Path()),
	)

	return o, nil
}

// State 返回当前运行状态。
func (o *Orchestrator) State() State { return o.state }

// TranscriptPath 返回对话记录的磁盘路径。
func (o *Orchestrator) TranscriptPath() string { return o.store.Path() }

// transition 记录并提交一次状态转换。
func (o *Orchestrator) transition(to State) {
	from := o.state
	o.state = to
	o.logger.Info("状态转换",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	o.collector.RecordStateTransition(string(from), string(to))
}

// Run 执行完整对话流程：
// 先落盘空对话的初始文档，再按 rounds × 参与者声明顺序逐回合发言，
// 每轮结束原子保存，全部轮次完成后评估并写入评估结果。
// 单回合的后端失败或空回复哨兵只跳过该回合；持久化失败、
// context 取消等错误置 Failed 并向上传播。
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil && o.state != StateFailed {
			o.transition(StateFailed)
		}
	}()

	if o.state != StateInit {
		return fmt.Errorf("编排器状态 %s 不允许启动", o.state)
	}

	// 初始文档先落盘，评估与外部观察者始终有完整文件可读
	if err = o.store.Save(o.doc); err != nil {
		return err
	}

	o.transition(StateRunning)

	for round := 1; round <= o.cfg.Dialogue.Rounds; round++ {
		o.logger.Info("对话轮次开始",
			zap.Int("round", round),
			zap.Int("total_rounds", o.cfg.Dialogue.Rounds),
		)

		for _, id := range o.order {
			if err = ctx.Err(); err != nil {
				return fmt.Errorf("对话被取消: %w", err)
			}

			ch, _ := o.cfg.Character(id)
			content, chatErr := o.clients[id].Chat(ctx, o.historyFor(id))
			if chatErr != nil {
				if ctx.Err() != nil {
					err = fmt.Errorf("对话被取消: %w", ctx.Err())
					return err
				}
				// 单回合失败跳过，不中断整场对话
				o.logger.Warn("发言失败，跳过该回合",
					zap.String("role", id),
					zap.Int("round", round),
					zap.Error(chatErr),
				)
				o.collector.RecordTurn(id, "failed")
				continue
			}
			if content == "" {
				o.logger.Warn("后端返回空内容，跳过该回合",
					zap.String("role", id),
					zap.Int("round", round),
				)
				o.collector.RecordTurn(id, "skipped")
				continue
			}

			o.doc.Entries = append(o.doc.Entries, transcript.Entry{
				SpeakerID:   id,
				SpeakerName: ch.Name,
				Content:     content,
			})
			o.collector.RecordTurn(id, "ok")
			o.logger.Info("发言完成",
				zap.String("role", id),
				zap.String("name", ch.Name),
				zap.Int("round", round),
				zap.Int("chars", len([]rune(content))),
			)
		}

		if err = o.store.Save(o.doc); err != nil {
			return err
		}
		o.collector.RecordRound()
	}

	o.transition(StateEvaluating)

	result, evalErr := o.eval.Evaluate(ctx, o.store.Path())
	if evalErr != nil {
		err = evalErr
		return err
	}
	if result != "" {
		// 失败文本与跳过提示同样落盘，记录保持自解释
		o.doc.Evaluation = result
		if err = o.store.Save(o.doc); err != nil {
			return err
		}
	}

	o.transition(StateDone)
	o.logger.Info("对话完成",
		zap.String("run_id", o.doc.RunID),
		zap.Int("entries", len(o.doc.Entries)),
		zap.String("output", o.store.Path()),
	)
	return nil
}

// historyFor 为指定参与者构造重标注的消息历史：
// 系统提示在首位，该参与者自己的发言标为 assistant，
// 其余参与者的发言标为 user 并带 [名称] 前缀以区分发言者。
func (o *Orchestrator) historyFor(id string) []llm.Message {
	messages := make([]llm.Message, 0, len(o.doc.Entries)+1)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: o.prompts[id],
	})

	for _, e := range o.doc.Entries {
		if e.SpeakerID == id {
			messages = append(messages, llm.Message{
				Role:    llm.RoleAssistant,
				Content: e.Content,
			})
		} else {
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("[%s] %s", e.SpeakerName, e.Content),
			})
		}
	}

	return messages
}

// closeClients 关闭全部已建客户端，构造失败路径使用。
func (o *Orchestrator) closeClients() {
	for id, cli := range o.clients {
		if cerr := cli.Close(); cerr != nil {
			o.logger.Warn("关闭客户端失败", zap.String("role", id), zap.Error(cerr))
		}
	}
}

// Close 关闭评估器与全部客户端，返回第一个错误。幂等。
func (o *Orchestrator) Close() error {
	if o.closed.Swap(true) {
		return nil
	}

	var first error
	if o.eval != nil {
		if err := o.eval.Close(); err != nil {
			first = err
		}
	}
	for id, cli := range o.clients {
		if err := cli.Close(); err != nil {
			if first == nil {
				first = err
			} else {
				o.logger.Warn("关闭客户端失败", zap.String("role", id), zap.Error(err))
			}
		}
	}

	o.logger.Debug("编排器已关闭")
	return first
}
