package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mynaparrot/plugnmeet-stt/helpers"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/factory"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/mynaparrot/plugnmeet-stt/pkg/routers"
	"github.com/mynaparrot/plugnmeet-stt/version"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	cli.VersionPrinter = func(c *cli.Command) {
		fmt.Printf("%s\n", c.Version)
	}

	app := &cli.Command{
		Name:        "plugnmeet-stt",
		Usage:       "On-demand speech-to-text service for plugNmeet",
		Description: "without option will start server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Configuration file",
				DefaultText: "config.yaml",
				Value:       "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "watch-config",
				Usage: "Apply log level changes of the configuration file without a restart",
				Value: true,
			},
		},
		Action:  startServer,
		Version: version.Version,
	}
	err := app.Run(context.Background(), os.Args)
	if err != nil {
		logrus.Fatalln(err)
	}
}

func startServer(ctx context.Context, c *cli.Command) error {
	appCnf, err := helpers.ReadYamlConfigFile(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	appCnf, err = config.New(appCnf)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&appCnf.LogSettings)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to setup logger")
	}
	appCnf.Logger = logger

	// now prepare our server
	err = helpers.PrepareServer(appCnf)
	if err != nil {
		logger.Fatalln(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.Bool("watch-config") {
		if err = helpers.WatchConfigFile(ctx, c.String("config"), logger); err != nil {
			logger.WithError(err).Warnln("config file watcher disabled")
		}
	}

	appFactory, err := factory.NewAppFactory(ctx, appCnf)
	if err != nil {
		logger.Fatalln(err)
	}

	// boot up some services
	appFactory.Boot()
	defer appFactory.Shutdown()

	rt := routers.New(appFactory.AppConfig, appFactory.Controllers)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infoln("exit requested, shutting down", "signal", sig)
		_ = rt.Shutdown()
	}()

	addr := net.JoinHostPort(appCnf.Client.Host, strconv.Itoa(appCnf.Client.Port))
	err = rt.Listen(addr)
	if err != nil {
		logger.Errorln(err)
		return err
	}
	return nil
}
