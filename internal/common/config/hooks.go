package config

import (
	"encoding"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks must be passed to viper.Unmarshal. Setting a decode hook replaces viper's defaults, so the
// duration and slice hooks are composed back in.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		EnumDecodeHook(),
	)),
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// EnumDecodeHook decodes strings into any type implementing encoding.TextUnmarshaler, e.g. condition kinds,
// aggregation types and submission statuses, so that invalid names fail at load time rather than at use.
func EnumDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || !reflect.PointerTo(t).Implements(textUnmarshalerType) {
			return data, nil
		}
		target := reflect.New(t)
		if err := target.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(data.(string))); err != nil {
			return nil, err
		}
		return target.Elem().Interface(), nil
	}
}
