package app

import (
	httpH "github.com/coachconnect/experiments-backend/internal/http/handlers"
	"github.com/coachconnect/experiments-backend/internal/platform/logger"
)

type Handlers struct {
	Experiment *httpH.ExperimentHandler
	Assignment *httpH.AssignmentHandler
	Conversion *httpH.ConversionHandler
	Flag       *httpH.FlagHandler
	Health     *httpH.HealthHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Experiment: httpH.NewExperimentHandler(serviceset.Registry, serviceset.Statistics),
		Assignment: httpH.NewAssignmentHandler(serviceset.Assignments),
		Conversion: httpH.NewConversionHandler(serviceset.Statistics),
		Flag:       httpH.NewFlagHandler(serviceset.Flags, serviceset.Registry),
		Health:     httpH.NewHealthHandler(),
	}
}
