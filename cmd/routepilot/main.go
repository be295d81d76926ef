package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	knative "knative.dev/serving/pkg/client/clientset/versioned"

	"github.com/routepilot/routepilot/pkg/locator"
	"github.com/routepilot/routepilot/pkg/logger"
	"github.com/routepilot/routepilot/pkg/metrics"
	"github.com/routepilot/routepilot/pkg/policy"
	"github.com/routepilot/routepilot/pkg/probe"
	"github.com/routepilot/routepilot/pkg/resources"
	"github.com/routepilot/routepilot/pkg/server"
	"github.com/routepilot/routepilot/pkg/signals"
	"github.com/routepilot/routepilot/pkg/traffic"
	"github.com/routepilot/routepilot/pkg/version"
)

var (
	masterURL         string
	kubeconfig        string
	logLevel          string
	port              string
	zapReplaceGlobals bool
	zapEncoding       string
	ver               bool
)

func init() {
	flag.StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	flag.StringVar(&masterURL, "master", "", "The address of the Kubernetes API server. Overrides any value in kubeconfig. Only required if out-of-cluster.")
	flag.StringVar(&logLevel, "log-level", "debug", "Log level can be: debug, info, warning, error.")
	flag.StringVar(&port, "port", "8080", "Port to listen on.")
	flag.BoolVar(&zapReplaceGlobals, "zap-replace-globals", false, "Whether to change the logging level of the global zap logger.")
	flag.StringVar(&zapEncoding, "zap-encoding", "json", "Zap logger encoding.")
	flag.BoolVar(&ver, "version", false, "Print version")
}

func main() {
	flag.Parse()

	if ver {
		fmt.Println("RoutePilot version", version.VERSION, "revision", version.REVISION)
		os.Exit(0)
	}

	logger, err := logger.NewLoggerWithEncoding(logLevel, zapEncoding)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	if zapReplaceGlobals {
		zap.ReplaceGlobals(logger.Desugar())
	}

	defer logger.Sync()

	klog.SetLogger(zapr.NewLogger(logger.Desugar()))

	stopCh := signals.SetupSignalHandler()

	cfg, err := clientcmd.BuildConfigFromFlags(masterURL, kubeconfig)
	if err != nil {
		logger.Fatalf("Error building kubeconfig: %v", err)
	}

	kubeClient, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		logger.Fatalf("Error building kubernetes clientset: %v", err)
	}

	dynamicClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		logger.Fatalf("Error building dynamic clientset: %v", err)
	}

	knativeClient, err := knative.NewForConfig(cfg)
	if err != nil {
		logger.Fatalf("Error building knative clientset: %v", err)
	}

	logger.Infof("Starting routepilot version %s revision %s", version.VERSION, version.REVISION)

	kubeVersion, err := kubeClient.Discovery().ServerVersion()
	if err != nil {
		logger.Fatalf("Error calling Kubernetes API: %v", err)
	}

	k8sVersionConstraint := "^1.25.0"

	// We append -alpha.1 to the end of our version constraint so that prebuilds of later versions
	// are considered valid for our purposes, as well as some managed solutions like EKS where they provide
	// a version like `v1.25.6-eks-d69f1b`. It doesn't matter what the prelease value is here, just that it
	// exists in our constraint.
	semverConstraint, err := semver.NewConstraint(k8sVersionConstraint + "-alpha.1")
	if err != nil {
		logger.Fatalf("Error parsing kubernetes version constraint: %v", err)
	}

	k8sSemver, err := semver.NewVersion(kubeVersion.GitVersion)
	if err != nil {
		logger.Fatalf("Error parsing kubernetes version as a semantic version: %v", err)
	}

	if !semverConstraint.Check(k8sSemver) {
		logger.Fatalf("Unsupported version of kubernetes detected. Expected %s, got %v", k8sVersionConstraint, kubeVersion)
	}

	logger.Infof("Connected to Kubernetes API %s", kubeVersion)

	recorder := metrics.NewRecorder("routepilot", true)
	recorder.SetInfo(version.VERSION)

	resourcesClient := resources.NewClient(dynamicClient, logger)
	routeLocator := locator.New(resourcesClient, logger)
	engine := policy.NewEngine(resourcesClient, kubeClient, routeLocator, logger)
	reconciler := traffic.NewReconciler(knativeClient, logger)
	prober := probe.New(logger)

	api := server.NewAPI(routeLocator, engine, reconciler, prober, kubeClient, recorder, logger)
	server.ListenAndServe(port, 3*time.Second, api, logger, stopCh)
}
