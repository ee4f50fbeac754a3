package config

import (
	"errors"
	"fmt"
)

// MissingFieldError 表示配置缺少必需字段。
// Field 是完整的配置路径，例如 dialogue.characters.instances.alice.name。
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("配置缺少必需字段: %s", e.Field)
}

// IsMissingField 判断错误是否为缺少字段错误。
func IsMissingField(err error) bool {
	var mfe *MissingFieldError
	return errors.As(err, &mfe)
}

func missing(field string) error {
	return &MissingFieldError{Field: field}
}

// Validate 校验配置完整性。
// 首错即返，错误中带出缺失字段的完整路径。
func (c *Config) Validate() error {
	if c.Dialogue.Rounds <= 0 {
		return missing("dialogue.rounds")
	}
	if c.Dialogue.Output.Directory == "" {
		return missing("dialogue.output.directory")
	}
	if len(c.Dialogue.Characters.Instances) == 0 {
		return missing("dialogue.characters.instances")
	}

	for _, id := range c.Dialogue.Characters.Order {
		ch := c.Dialogue.Characters.Instances[id]
		if err := ch.validate("dialogue.characters.instances." + id); err != nil {
			return err
		}
	}

	if c.Discussion.Topic == "" {
		return missing("discussion.topic")
	}

	if c.ResponseRequirements.Length.Min < 0 ||
		c.ResponseRequirements.Length.Max < c.ResponseRequirements.Length.Min {
		return fmt.Errorf("response_requirements.length 区间无效: [%d, %d]",
			c.ResponseRequirements.Length.Min, c.ResponseRequirements.Length.Max)
	}

	if c.Evaluation.Enabled {
		if c.Evaluation.Model == "" {
			return missing("evaluation.model")
		}
		if c.Evaluation.Character.Prompt == "" {
			return missing("evaluation.character.prompt")
		}
	}

	if c.Performance.Retry.MaxAttempts <= 0 {
		return missing("performance.retry.max_attempts")
	}
	if c.Performance.Retry.Multiplier < 1.0 {
		return fmt.Errorf("performance.retry.multiplier 必须 >= 1.0")
	}

	return nil
}

func (ch *Character) validate(path string) error {
	if ch == nil {
		return missing(path)
	}
	if ch.Name == "" {
		return missing(path + ".name")
	}
	if ch.Role == "" {
		return missing(path + ".role")
	}
	if len(ch.Personality) == 0 {
		return missing(path + ".personality")
	}
	if len(ch.Interests) == 0 {
		return missing(path + ".interests")
	}
	if ch.Background == "" {
		return missing(path + ".background")
	}
	if ch.LanguageStyle.Tone == "" {
		return missing(path + ".language_style.tone")
	}
	if ch.LanguageStyle.Formality == "" {
		return missing(path + ".language_style.formality")
	}
	if ch.LanguageStyle.Vocabulary == "" {
		return missing(path + ".language_style.vocabulary")
	}
	if ch.LanguageStyle.UseEmoji == nil {
		return missing(path + ".language_style.use_emoji")
	}
	if ch.Model == "" {
		return missing(path + ".model")
	}
	if ch.Prompt == "" {
		return missing(path + ".prompt")
	}
	return nil
}
