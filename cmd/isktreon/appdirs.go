package main

import (
	"fmt"
	"os"
	"path/filepath"

	xappdirs "github.com/chasinglogic/appdirs"
)

const (
	appName        = "isktreon"
	configFileName = "config.yaml"
	dbFileName     = "isktreon.sqlite"
	logFileName    = "isktreon.log"
)

// appDirs represents the local directories for storing data, logs and the configuration.
type appDirs struct {
	config string
	data   string
	log    string
}

func newAppDirs() appDirs {
	ad := xappdirs.New(appName)
	return appDirs{
		config: ad.UserConfig(),
		data:   ad.UserData(),
		log:    ad.UserLog(),
	}
}

func (ad appDirs) configPath() string {
	return filepath.Join(ad.config, configFileName)
}

func (ad appDirs) initLogFile() (string, error) {
	if err := os.MkdirAll(ad.log, os.ModePerm); err != nil {
		return "", err
	}
	return filepath.Join(ad.log, logFileName), nil
}

func (ad appDirs) initDSN() (string, error) {
	if err := os.MkdirAll(ad.data, os.ModePerm); err != nil {
		return "", err
	}
	return fmt.Sprintf("file:%s", filepath.Join(ad.data, dbFileName)), nil
}
