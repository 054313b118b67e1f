package usecase

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"go.uber.org/zap"
)

// VideoService serves owner-scoped reads and the owner-driven transitions.
type VideoService struct {
	uow    domain.UnitOfWork
	locker VideoLocker
	clock  domain.Clock
	log    *zap.Logger
}

func NewVideoService(uow domain.UnitOfWork, locker VideoLocker, clock domain.Clock, log *zap.Logger) *VideoService {
	return &VideoService{
		uow:    uow,
		locker: locker,
		clock:  clock,
		log:    log.Named("video.service"),
	}
}

func (s *VideoService) Get(ctx context.Context, memberID, videoID snowflake.ID) (domain.Video, error) {
	video, err := s.uow.Repositories().Videos.FindByID(ctx, videoID)
	if err != nil {
		return domain.Video{}, err
	}
	if video.MemberID != memberID {
		return domain.Video{}, domain.ErrVideoNotFound
	}
	return video, nil
}

func (s *VideoService) List(ctx context.Context, memberID snowflake.ID, limit, offset int) ([]domain.Video, error) {
	limit, offset = normalizePage(limit, offset)
	return s.uow.Repositories().Videos.FindByMemberID(ctx, memberID, limit, offset)
}

func (s *VideoService) Archive(ctx context.Context, memberID, videoID snowflake.ID) (domain.Video, error) {
	return s.transition(ctx, memberID, videoID, func(v domain.Video) (domain.Video, error) {
		return v.Archive(s.clock.Now())
	})
}

// MarkOriginalDeleted is called once the source object has been removed from
// storage after processing.
func (s *VideoService) MarkOriginalDeleted(ctx context.Context, memberID, videoID snowflake.ID) (domain.Video, error) {
	return s.transition(ctx, memberID, videoID, func(v domain.Video) (domain.Video, error) {
		return v.MarkOriginalDeleted(s.clock.Now())
	})
}

func (s *VideoService) transition(ctx context.Context, memberID, videoID snowflake.ID, fn func(domain.Video) (domain.Video, error)) (domain.Video, error) {
	unlock, err := s.locker.Lock(ctx, videoID)
	if err != nil {
		return domain.Video{}, err
	}
	defer unlock()

	var saved domain.Video
	err = s.uow.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		video, err := repos.Videos.FindByIDForUpdate(ctx, videoID)
		if err != nil {
			return err
		}
		if video.MemberID != memberID {
			return domain.ErrVideoNotFound
		}
		next, err := fn(video)
		if err != nil {
			return err
		}
		saved, err = repos.Videos.Update(ctx, next)
		return err
	})
	if err != nil {
		return domain.Video{}, err
	}
	s.log.Info("video updated", zap.String("video_id", saved.ID.String()), zap.String("status", string(saved.Status)))
	return saved, nil
}
