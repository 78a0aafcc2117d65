// Package main serves the falling-object-detector vision service as a
// Viam module.
package main

import (
	"context"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils"

	"github.com/viam-modules/falling-object-detection/objecttracker"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("falling-object-detection"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	myMod, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}

	// Models and APIs add helpers to the registry during their init().
	// They can then be added to the module here.
	err = myMod.AddModelFromRegistry(ctx, vision.API, objecttracker.Model)
	if err != nil {
		return err
	}

	err = myMod.Start(ctx)
	defer myMod.Close(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
