/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/datagems-eosc/ap-explanation/api"
	"github.com/datagems-eosc/ap-explanation/conf"
	"github.com/datagems-eosc/ap-explanation/rewriter"
	"github.com/datagems-eosc/ap-explanation/utils"
	"github.com/datagems-eosc/ap-explanation/utils/log"
	_ "github.com/datagems-eosc/ap-explanation/utils/log/debug"
)

const name = "ap-explanation"

var (
	version = "unknown"

	// config
	configFile    string
	listenAddr    string
	logLevel      string
	showVersion   bool
	cpuProfile    string
	memProfile    string
	profileServer string
)

func init() {
	flag.StringVar(&configFile, "config", "~/.ap-explanation/config.yaml", "Config file path")
	flag.StringVar(&listenAddr, "listen", "", "Listen address for the http api, overrides config")
	flag.StringVar(&logLevel, "log-level", "", "Service log level")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")
	flag.StringVar(&profileServer, "profile-server", "", "Profile server address, default not started")
}

func main() {
	flag.Parse()
	log.SetStringLevel(logLevel, log.InfoLevel)
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	configFile = utils.HomeDirExpand(configFile)

	flag.Visit(func(f *flag.Flag) {
		log.Infof("args %#v : %s", f.Name, f.Value)
	})

	var err error
	conf.GConf, err = conf.LoadConfig(configFile)
	if err != nil {
		log.WithField("config", configFile).WithError(err).Fatal("load config failed")
	}
	// Command arguments override the config file.
	if listenAddr != "" {
		conf.GConf.ListenAddr = listenAddr
	}
	if logLevel == "" && conf.GConf.LogLevel != "" {
		log.SetStringLevel(conf.GConf.LogLevel, log.InfoLevel)
	}

	if profileServer != "" {
		go func() {
			log.Print(http.ListenAndServe(profileServer, nil))
		}()
	}

	_ = utils.StartProfile(cpuProfile, memProfile)
	defer utils.StopProfile()

	rw, err := rewriter.NewRewriter(conf.GConf.RewriteCacheSize)
	if err != nil {
		log.WithError(err).Fatal("init query rewriter failed")
	}

	httpServer, err := api.StartAPI(conf.GConf.ListenAddr, version, conf.GConf.SemiringRegistry(), rw)
	if err != nil {
		log.WithError(err).Fatal("start api server failed")
	}
	log.WithField("listen", conf.GConf.ListenAddr).Info("api server started")

	<-utils.WaitForExit()

	if err = api.StopAPI(httpServer); err != nil {
		log.WithError(err).Fatal("stop api server failed")
	}

	log.Info("service stopped")
}
