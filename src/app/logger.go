package app

import (
	"go.uber.org/zap"

	"github.com/Blackdeer1524/graphcore/src"
)

func NewLogger(env string) (src.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if env == EnvDev || env == EnvLocal {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return log.Sugar(), nil
}
