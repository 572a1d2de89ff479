// Command admin registers detection models and exports datasets without the web server.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"wbcscan/internal/config"
)

const (
	flagDB      = "db"
	flagName    = "name"
	flagPath    = "path"
	flagClasses = "classes"
	flagProject = "project"
	flagBatch   = "batch"
	flagModel   = "model"
	flagOut     = "out"
)

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:  "wbcscan-admin",
		Usage: "manage detection models and export labelled datasets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagDB,
				Usage: "path to the SQLite database",
				Value: cfg.DatabasePath,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "models",
				Usage: "work with registered detection models",
				Subcommands: []*cli.Command{
					{
						Name:  "add",
						Usage: "register an ONNX model artifact",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagName, Required: true, Usage: "name users select the model by"},
							&cli.StringFlag{Name: flagPath, Required: true, Usage: "ONNX file, absolute or relative to MODEL_DIR"},
							&cli.StringFlag{Name: flagClasses, Required: true, Usage: "comma separated class names in class id order"},
						},
						Action: func(c *cli.Context) error { return addModelAction(c, cfg) },
					},
					{
						Name:   "list",
						Usage:  "list registered models",
						Action: listModelsAction,
					},
				},
			},
			{
				Name:  "export",
				Usage: "write a YOLO dataset archive of project batches",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: flagProject, Required: true},
					&cli.Int64SliceFlag{Name: flagBatch, Required: true, Usage: "batch id, repeatable"},
					&cli.StringFlag{Name: flagModel, Value: cfg.ExportModel, Usage: "model providing classes.txt"},
					&cli.StringFlag{Name: flagOut, Value: "dataset.zip"},
				},
				Action: exportAction,
			},
		},
	}
}

func main() {
	if err := newApp(config.Load()).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
