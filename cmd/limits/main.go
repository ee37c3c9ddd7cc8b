package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"gopkg.in/yaml.v2"

	"github.com/spf13/viper"
)

const outputName = "configs/limits.generated.yaml"

// Утилита сборки лимитов: раскатывает секцию defaults базового конфига
// по каждой бирже и пишет готовую секцию exchanges. Недостающие поля
// биржи добираются из defaults, свои значения остаются как есть.
func mergeExchange(defaults map[string]any, override map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func writeConfig(exchanges map[string]any) error {
	result := viper.New()
	result.Set("exchanges", exchanges)

	bs, err := yaml.Marshal(result.AllSettings())
	if err != nil {
		return errors.Wrap(err, "marshal config to yaml")
	}
	_ = os.Remove(outputName)
	out, err := os.Create(outputName)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer out.Close()
	if _, err = out.WriteString(string(bs)); err != nil {
		_ = os.Remove(out.Name())
		return errors.Wrap(err, "write content")
	}
	return nil
}

func main() {
	viper.SetConfigName("limits.base")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	defaults := viper.GetStringMap("defaults.limits")
	if len(defaults) == 0 {
		panic("has no defaults.limits in config")
	}

	names := viper.GetStringMap("exchanges")
	if len(names) == 0 {
		panic("has no exchanges in config")
	}

	merged := make(map[string]any, len(names))
	for name := range names {
		ex := viper.GetStringMap("exchanges." + name)
		limits, _ := ex["limits"].(map[string]any)
		ex["limits"] = mergeExchange(defaults, limits)
		merged[name] = ex
	}

	if err := writeConfig(merged); err != nil {
		panic(fmt.Errorf("can't write result config: %w", err))
	}
	fmt.Printf("%s complete\n", outputName)
	fmt.Println("done")
}
