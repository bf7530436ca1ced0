package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/objectstore"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/storage"
)

var (
	// ErrUnlockThrottled 解锁尝试超出窗口限额
	ErrUnlockThrottled = errors.New("too many unlock attempts")
	// ErrPassphraseRequired 解锁请求未携带口令
	ErrPassphraseRequired = errors.New("passphrase is required")
	// ErrForeignObjectKey 附件对象键不在调用方命名空间内
	ErrForeignObjectKey = errors.New("attachment object key outside caller namespace")
)

// RevealView 是一次门控读取的结果。
// Outcome 为不可见结果时 Capsule.Message 已被清空，
// RevealNotFound 时 Capsule 为 nil。
type RevealView struct {
	Outcome domain.RevealOutcome
	Capsule *domain.Capsule
}

// CapsuleService 胶囊业务逻辑
//
// 组合存储、对象存储、口令校验与解锁限流。口令摘要与比对
// 均派发到工作池执行，请求协程只等待结果。
type CapsuleService struct {
	store         storage.Store
	objects       objectstore.Store
	verifier      *auth.Verifier
	workers       *pool.WorkerPool
	throttle      UnlockThrottle
	verifyTimeout time.Duration
	logger        *zap.Logger
}

// NewCapsuleService 创建胶囊服务实例
func NewCapsuleService(
	store storage.Store,
	objects objectstore.Store,
	verifier *auth.Verifier,
	workers *pool.WorkerPool,
	throttle UnlockThrottle,
	cfg *config.UnlockConfig,
	logger *zap.Logger,
) *CapsuleService {
	return &CapsuleService{
		store:         store,
		objects:       objects,
		verifier:      verifier,
		workers:       workers,
		throttle:      throttle,
		verifyTimeout: cfg.VerifyTimeout,
		logger:        logger,
	}
}

// CreateCapsuleInput 创建胶囊的输入参数。
// Attachments 引用媒体管线先前签发的草稿，对象键必须位于
// 调用方自己的命名空间。
type CreateCapsuleInput struct {
	Title       string
	Message     string
	Author      string
	OwnerID     *string
	RevealAt    time.Time
	Passphrase  *string
	Attachments []domain.AttachmentDraft
}

// Create 创建胶囊
//
// 口令存在时先做长度校验，再在工作池中计算 bcrypt 摘要；
// 胶囊与全部附件由存储层原子写入，不存在只建一半的状态。
func (s *CapsuleService) Create(ctx context.Context, input CreateCapsuleInput) (*domain.Capsule, error) {
	var digest *string
	if input.Passphrase != nil {
		if err := domain.ValidatePassphrase(*input.Passphrase); err != nil {
			return nil, err
		}
		d, err := s.digestPooled(ctx, *input.Passphrase)
		if err != nil {
			return nil, err
		}
		digest = &d
	}

	capsule, err := domain.NewCapsule(domain.NewCapsuleParams{
		Title:            input.Title,
		Message:          input.Message,
		Author:           input.Author,
		OwnerID:          input.OwnerID,
		RevealAt:         input.RevealAt,
		PassphraseDigest: digest,
	})
	if err != nil {
		return nil, err
	}

	if err := checkDraftOwnership(input.OwnerID, input.Attachments); err != nil {
		return nil, err
	}
	attachments, err := domain.NormalizeAttachments(capsule.ID, time.Now(), input.Attachments)
	if err != nil {
		return nil, err
	}
	capsule.Attachments = attachments

	if err := s.store.CreateCapsule(ctx, capsule); err != nil {
		return nil, err
	}

	s.logger.Info("capsule created",
		zap.String("capsule_id", capsule.ID),
		zap.Bool("locked", capsule.IsLocked),
		zap.Int("attachments", len(attachments)),
		zap.Time("reveal_at", capsule.RevealAt))

	return capsule, nil
}

// Get 读取胶囊并经过揭示门控
//
// 不带口令的读取永远不会解锁：锁定胶囊返回 RevealLocked，
// 未锁定胶囊按揭示时刻返回 RevealNotRevealed 或 RevealAvailable。
func (s *CapsuleService) Get(ctx context.Context, ownerID *string, id string) (*RevealView, error) {
	capsule, err := s.store.GetCapsule(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, storage.ErrCapsuleNotFound) {
			return &RevealView{Outcome: domain.RevealNotFound}, nil
		}
		return nil, err
	}

	outcome := domain.EvaluateReveal(capsule, time.Now(), nil, nil)
	if !outcome.Visible() {
		capsule.Message = ""
	}
	return &RevealView{Outcome: outcome, Capsule: capsule}, nil
}

// Unlock 携带口令读取锁定胶囊
//
// 校验通过仅使本次请求可见，不改变胶囊的锁定状态。
// 限流按"胶囊+来源"只统计校验失败，成功不提前清零，窗口到期自然重置；
// bcrypt 比对在工作池中执行，池满视为服务过载而非口令错误。
func (s *CapsuleService) Unlock(ctx context.Context, ownerID *string, id, passphrase, clientKey string) (*RevealView, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	key := unlockKey(id, clientKey)
	allowed, err := s.throttle.Allow(ctx, key)
	if err != nil {
		// 限流后端故障时放行并告警，可用性优先于严格计数
		s.logger.Warn("unlock throttle unavailable", zap.Error(err))
		allowed = true
	}
	if !allowed {
		s.logger.Info("unlock throttled",
			zap.String("capsule_id", id),
			zap.String("client", clientKey))
		return nil, ErrUnlockThrottled
	}

	capsule, err := s.store.GetCapsule(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, storage.ErrCapsuleNotFound) {
			return &RevealView{Outcome: domain.RevealNotFound}, nil
		}
		return nil, err
	}

	var dispatchErr error
	verify := func(digest, pass string) bool {
		vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
		defer cancel()

		var ok bool
		if err := s.workers.Do(vctx, func() { ok = s.verifier.Verify(digest, pass) }); err != nil {
			dispatchErr = err
			return false
		}
		return ok
	}

	outcome := domain.EvaluateReveal(capsule, time.Now(), &passphrase, verify)
	if dispatchErr != nil {
		return nil, fmt.Errorf("passphrase verification unavailable: %w", dispatchErr)
	}

	if outcome == domain.RevealInvalidPassphrase {
		if err := s.throttle.RecordFailure(ctx, key); err != nil {
			s.logger.Warn("unlock failure recording failed", zap.Error(err))
		}
	}
	if !outcome.Visible() {
		capsule.Message = ""
	}

	s.logger.Info("unlock attempted",
		zap.String("capsule_id", id),
		zap.String("outcome", outcome.String()))

	return &RevealView{Outcome: outcome, Capsule: capsule}, nil
}

// List 列出调用方的全部胶囊
//
// 封存内容在存储读取层即被排除，无论胶囊是否已到揭示时刻。
func (s *CapsuleService) List(ctx context.Context, ownerID string) ([]*domain.Capsule, error) {
	return s.store.ListCapsules(ctx, ownerID)
}

// Delete 删除胶囊及其附件
//
// 数据库删除是原子的；附件对象随后尽力清理，对象存储与
// 数据库之间没有跨系统事务，清理失败只留下孤儿对象。
func (s *CapsuleService) Delete(ctx context.Context, ownerID *string, id string) error {
	capsule, err := s.store.DeleteCapsule(ctx, ownerID, id)
	if err != nil {
		return err
	}

	for _, att := range capsule.Attachments {
		s.removeObject(ctx, att.ObjectKey)
		if att.PosterKey != nil {
			s.removeObject(ctx, *att.PosterKey)
		}
	}

	s.logger.Info("capsule deleted",
		zap.String("capsule_id", id),
		zap.Int("attachments", len(capsule.Attachments)))

	return nil
}

// digestPooled 在工作池中计算口令摘要，bcrypt 不占用请求协程
func (s *CapsuleService) digestPooled(ctx context.Context, passphrase string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	var (
		digest string
		err    error
	)
	if perr := s.workers.Do(dctx, func() { digest, err = s.verifier.Digest(passphrase) }); perr != nil {
		return "", fmt.Errorf("passphrase digest unavailable: %w", perr)
	}
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (s *CapsuleService) removeObject(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil {
		s.logger.Warn("attachment object cleanup failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// checkDraftOwnership 校验草稿对象键都位于调用方命名空间之下，
// 防止把他人上传的对象挂到自己的胶囊上
func checkDraftOwnership(ownerID *string, drafts []domain.AttachmentDraft) error {
	owner := objectstore.AnonymousOwner
	if ownerID != nil && *ownerID != "" {
		owner = *ownerID
	}
	for _, d := range drafts {
		if !objectstore.KeyOwnedBy(d.ObjectKey, owner) {
			return ErrForeignObjectKey
		}
		if d.PosterKey != nil && !objectstore.KeyOwnedBy(*d.PosterKey, owner) {
			return ErrForeignObjectKey
		}
	}
	return nil
}

// unlockKey 组合限流键，同一胶囊同一来源的失败才会累积
func unlockKey(capsuleID, clientKey string) string {
	return capsuleID + ":" + clientKey
}
