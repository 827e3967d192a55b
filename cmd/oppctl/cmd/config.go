package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configEnvironment string
	configOutput      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management and recommendations",
	Long:  `Commands for generating daemon configuration based on host capabilities.`,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate recommended processor configuration",
	Long: `Analyzes the host (CPU, RAM) and generates batch processor settings.
Takes the deployment environment (development, staging, production) into
account to provide safe defaults.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().StringVarP(&configEnvironment, "environment", "e", "development",
		"Deployment environment: development, staging, production")
	configRecommendCmd.Flags().StringVarP(&configOutput, "output", "o", "text",
		"Output format: text, json, yaml")
}

type ConfigRecommendation struct {
	Hardware        HardwareInfo    `json:"hardware" yaml:"hardware"`
	Recommendations ProcessorConfig `json:"recommendations" yaml:"recommendations"`
	Rationale       string          `json:"rationale" yaml:"rationale"`
}

type HardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes     uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	RAMGB        string `json:"ram_gb" yaml:"ram_gb"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type ProcessorConfig struct {
	MaxConcurrentBatches int    `json:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	BatchSize            int    `json:"batch_size" yaml:"batch_size"`
	BatchTimeout         string `json:"batch_timeout" yaml:"batch_timeout"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	hardware := detectHardware()

	config := calculateRecommendations(hardware, configEnvironment)
	rationale := fmt.Sprintf(
		"Based on %d CPU threads and %s: recommended %d concurrent batches of %d nodes (%s environment)",
		hardware.CPUThreads, hardware.RAMGB,
		config.MaxConcurrentBatches, config.BatchSize, configEnvironment,
	)

	recommendation := ConfigRecommendation{
		Hardware:        hardware,
		Recommendations: config,
		Rationale:       rationale,
	}

	return outputRecommendation(recommendation, configOutput)
}

func detectHardware() HardwareInfo {
	hw := HardwareInfo{
		CPUModel:     "Unknown",
		CPUThreads:   runtime.NumCPU(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		hw.CPUModel = infos[0].ModelName
	}
	if counts, err := cpu.Counts(true); err == nil {
		hw.CPUThreads = counts
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hw.RAMBytes = vm.Total
		hw.RAMGB = fmt.Sprintf("%.1f GB", float64(vm.Total)/(1024*1024*1024))
	}

	return hw
}

func calculateRecommendations(hw HardwareInfo, environment string) ProcessorConfig {
	// Batches are CPU-light; one in-flight batch per two threads works
	// well, capped to keep store contention reasonable.
	concurrent := hw.CPUThreads / 2
	if environment == "development" {
		concurrent = concurrent / 2
	}
	if concurrent < 1 {
		concurrent = 1
	}
	if concurrent > 16 {
		concurrent = 16
	}

	batchSize := 100
	if hw.RAMBytes > 0 && hw.RAMBytes < 2*1024*1024*1024 {
		batchSize = 50
	}

	timeout := "5m"
	if environment == "production" {
		timeout = "3m"
	}

	return ProcessorConfig{
		MaxConcurrentBatches: concurrent,
		BatchSize:            batchSize,
		BatchTimeout:         timeout,
	}
}

func outputRecommendation(rec ConfigRecommendation, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(rec)

	default: // text
		fmt.Println("Hardware Configuration:")
		fmt.Printf("  CPU: %s (%d threads)\n", rec.Hardware.CPUModel, rec.Hardware.CPUThreads)
		fmt.Printf("  RAM: %s\n", rec.Hardware.RAMGB)
		fmt.Printf("  OS: %s/%s\n", rec.Hardware.OS, rec.Hardware.Architecture)
		fmt.Println()
		fmt.Println("Recommended Processor Settings:")
		fmt.Printf("  max_concurrent_batches: %d\n", rec.Recommendations.MaxConcurrentBatches)
		fmt.Printf("  batch_size: %d\n", rec.Recommendations.BatchSize)
		fmt.Printf("  batch_timeout: %s\n", rec.Recommendations.BatchTimeout)
		fmt.Println()
		fmt.Println(rec.Rationale)
		return nil
	}
}
