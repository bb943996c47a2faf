// Casos de uso do limiter: política, cooldown e admissão.
//
// Os serviços daqui orquestram o domain.Store mas não sabem nada de
// net/http nem de Redis; recebem entries já validadas e devolvem decisões.
package application
